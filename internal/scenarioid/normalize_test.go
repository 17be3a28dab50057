package scenarioid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"navigation":             "navigation",
		"Navigation":             "navigation",
		"curve":                  "navigation",
		"curve.py":               "navigation",
		"scenario_curve":         "navigation",
		"hidden_goal":            "navigation",
		"NAV":                    "navigation",
		"adversary":              "adversary",
		"simple_adversary":       "adversary",
		"simple_adversary_pd":    "adversary",
		"simple_adversary_pd.py": "adversary",
		"scenario-adversary":     "adversary",
		"physical deception":     "adversary",
		"SimpleAdversary":        "adversary",
		"custom_world":           "custom-world",
		"scenario_custom":        "scenario-custom",
		"":                       "",
	}

	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "normalize(%q)", in)
	}
}
