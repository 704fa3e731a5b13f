package scenario

import (
	"fmt"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines the traffic a run injects: two payload catalogs and
// ordered phases that shape how much of the traffic is critical.
type Scenario struct {
	Name        string   `yaml:"name,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Critical    []string `yaml:"critical"`
	Noise       []string `yaml:"noise"`
	Phases      []Phase  `yaml:"phases,omitempty"`
}

// Phase is a stage of the run with its own traffic mix and transition triggers.
type Phase struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	// CriticalRatio overrides the run's ratio while the phase is active; zero keeps it.
	CriticalRatio float64 `yaml:"critical_ratio,omitempty"`
	// Burst is the number of messages injected per traffic tick; zero means one.
	Burst    int       `yaml:"burst,omitempty"`
	Triggers []Trigger `yaml:"triggers,omitempty"`
}

// Trigger moves the scenario to another phase based on an event.
type Trigger struct {
	Event string `yaml:"event"`
	Value int    `yaml:"value"`
	Next  string `yaml:"next"`
}

// Event represents a runtime occurrence that may advance the scenario.
type Event struct {
	Type  string
	Value int
}

// Event types emitted by the traffic generator.
const (
	EventTimeElapsed = "time_elapsed"
	EventInjected    = "messages_injected"
)

// Load reads a YAML scenario definition from disk.
func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if len(s.Critical) == 0 && len(s.Noise) == 0 {
		return nil, fmt.Errorf("scenario %q has no messages", path)
	}
	return &s, nil
}

// Named returns the built-in scenario called name.
func Named(name string) (*Scenario, error) {
	s, ok := BuiltIn()[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q", name)
	}
	return &s, nil
}

// NextPhase returns the name of the next phase given the current phase and event.
// If no trigger matches, ok will be false.
func (s *Scenario) NextPhase(current string, ev Event) (next string, ok bool) {
	for _, p := range s.Phases {
		if p.Name != current {
			continue
		}
		for _, tr := range p.Triggers {
			if tr.Event == ev.Type && ev.Value >= tr.Value {
				return tr.Next, true
			}
		}
	}
	return "", false
}

// Phase looks up a phase by name.
func (s *Scenario) Phase(name string) (Phase, bool) {
	for _, p := range s.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return Phase{}, false
}

// FirstPhase returns the name of the initial phase, or "" when the scenario has none.
func (s *Scenario) FirstPhase() string {
	if len(s.Phases) == 0 {
		return ""
	}
	return s.Phases[0].Name
}

// Pick draws a payload: critical with probability ratio, noise otherwise.
// An empty catalog falls back to the other one.
func (s *Scenario) Pick(rng *rand.Rand, ratio float64) (payload string, critical bool) {
	critical = rng.Float64() < ratio
	if critical && len(s.Critical) == 0 {
		critical = false
	}
	if !critical && len(s.Noise) == 0 {
		critical = true
	}
	if critical {
		return s.Critical[rng.Intn(len(s.Critical))], true
	}
	return s.Noise[rng.Intn(len(s.Noise))], false
}
