package scenario

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/scenarioid"
)

var (
	ErrScenarioExists   = errors.New("scenario already registered")
	ErrScenarioNotFound = errors.New("scenario not found")
)

// Factory builds a scenario from params. The params are validated at MakeWorld.
type Factory func(p Params) Scenario

type registeredScenario struct {
	factory  Factory
	defaults func() Params
}

var scenarioRegistry = struct {
	mu sync.RWMutex
	m  map[string]registeredScenario
}{
	m: make(map[string]registeredScenario),
}

func init() {
	mustRegister(NavigationName, func(p Params) Scenario { return NewNavigation(p) }, DefaultNavigationParams)
	mustRegister(AdversaryName, func(p Params) Scenario { return NewAdversary(p) }, DefaultAdversaryParams)
}

func mustRegister(name string, factory Factory, defaults func() Params) {
	if err := Register(name, factory, defaults); err != nil {
		panic(err)
	}
}

// Register adds a scenario under its normalized name.
func Register(name string, factory Factory, defaults func() Params) error {
	key := scenarioid.Normalize(name)
	if key == "" {
		return errors.New("scenario name is required")
	}
	if factory == nil || defaults == nil {
		return errors.New("scenario factory and defaults are required")
	}

	scenarioRegistry.mu.Lock()
	defer scenarioRegistry.mu.Unlock()

	if _, exists := scenarioRegistry.m[key]; exists {
		return fmt.Errorf("%w: %s", ErrScenarioExists, key)
	}
	scenarioRegistry.m[key] = registeredScenario{factory: factory, defaults: defaults}
	return nil
}

func lookup(name string) (registeredScenario, string, error) {
	key := scenarioid.Normalize(name)
	scenarioRegistry.mu.RLock()
	defer scenarioRegistry.mu.RUnlock()
	entry, ok := scenarioRegistry.m[key]
	if !ok {
		return registeredScenario{}, key, fmt.Errorf("%w: %s", ErrScenarioNotFound, name)
	}
	return entry, key, nil
}

// New builds the named scenario. A nil params uses the scenario defaults.
func New(name string, p *Params) (Scenario, error) {
	entry, _, err := lookup(name)
	if err != nil {
		return nil, err
	}
	params := entry.defaults()
	if p != nil {
		params = *p
	}
	return entry.factory(params), nil
}

// DefaultParams returns a fresh copy of the named scenario's defaults.
func DefaultParams(name string) (Params, error) {
	entry, _, err := lookup(name)
	if err != nil {
		return Params{}, err
	}
	return entry.defaults(), nil
}

// Names lists registered scenarios in sorted order.
func Names() []string {
	scenarioRegistry.mu.RLock()
	defer scenarioRegistry.mu.RUnlock()
	names := make([]string, 0, len(scenarioRegistry.m))
	for name := range scenarioRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
