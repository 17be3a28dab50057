package scenarioid

import "strings"

const (
	Navigation = "navigation"
	Adversary  = "adversary"
)

// Normalize canonicalizes scenario names and their legacy aliases.
func Normalize(name string) string {
	normalized := strings.TrimSpace(strings.ToLower(name))
	normalized = strings.TrimSuffix(normalized, ".py")
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	normalized = strings.Trim(normalized, "-")
	if normalized == "" {
		return ""
	}
	if canonical, ok := normalizeKnownAlias(normalized); ok {
		return canonical
	}
	return normalized
}

func normalizeKnownAlias(normalized string) (string, bool) {
	for _, candidate := range aliasCandidates(normalized) {
		if canonical, ok := canonicalScenarioName(candidate); ok {
			return canonical, true
		}
	}
	return "", false
}

func aliasCandidates(normalized string) []string {
	candidate := strings.TrimPrefix(normalized, "scenario-")
	candidate = strings.Trim(candidate, "-")

	candidates := []string{normalized}
	if candidate != "" && candidate != normalized {
		candidates = append(candidates, candidate)
	}

	trimmedCandidate := trimVariantSuffix(candidate)
	if trimmedCandidate != "" && trimmedCandidate != candidate {
		candidates = append(candidates, trimmedCandidate)
	}
	return candidates
}

func trimVariantSuffix(value string) string {
	switch {
	case strings.HasSuffix(value, "-pd"):
		return strings.TrimSuffix(value, "-pd")
	case strings.HasSuffix(value, "-v0"):
		return strings.TrimSuffix(value, "-v0")
	default:
		return value
	}
}

func canonicalScenarioName(alias string) (string, bool) {
	switch alias {
	case Navigation, "curve", "hidden-goal", "hidden-goal-navigation":
		return Navigation, true
	case Adversary, "simple-adversary", "physical-deception":
		return Adversary, true
	}

	compact := strings.ReplaceAll(alias, "-", "")
	switch compact {
	case "navigation", "nav", "curve", "hiddengoal":
		return Navigation, true
	case "adversary", "simpleadversary", "physicaldeception":
		return Adversary, true
	default:
		return "", false
	}
}
