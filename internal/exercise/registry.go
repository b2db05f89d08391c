package exercise

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned for an exercise key the registry doesn't know.
var ErrUnsupported = errors.New("unsupported exercise type")

type entry struct {
	key string
	new func() Counter
}

// Registry order is the order the API lists types in.
var registry = []entry{
	{"squats", func() Counter { return NewSquat() }},
	{"pushups", func() Counter { return NewPushup() }},
	{"deadlifts", func() Counter { return NewDeadlift() }},
	{"pullups", func() Counter { return NewPullup() }},
	{"bicep_curls", func() Counter { return NewBicepCurl() }},
}

var aliases = map[string]string{
	"squat":      "squats",
	"pushup":     "pushups",
	"push_up":    "pushups",
	"push_ups":   "pushups",
	"deadlift":   "deadlifts",
	"pullup":     "pullups",
	"pull_up":    "pullups",
	"pull_ups":   "pullups",
	"bicep_curl": "bicep_curls",
	"curl":       "bicep_curls",
	"curls":      "bicep_curls",
}

// Types returns the supported exercise keys in registry order.
func Types() []string {
	keys := make([]string, len(registry))
	for i, e := range registry {
		keys[i] = e.key
	}
	return keys
}

// Normalize maps a user-supplied exercise name onto its registry key.
// Matching ignores case and treats spaces and hyphens as underscores.
func Normalize(name string) (string, bool) {
	k := strings.ToLower(strings.TrimSpace(name))
	k = strings.NewReplacer(" ", "_", "-", "_").Replace(k)
	if alias, ok := aliases[k]; ok {
		k = alias
	}
	for _, e := range registry {
		if e.key == k {
			return k, true
		}
	}
	return "", false
}

// New returns a fresh counter for the named exercise.
func New(name string) (Counter, error) {
	key, ok := Normalize(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
	for _, e := range registry {
		if e.key == key {
			return e.new(), nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupported, name)
}
