// Package matrix expands an experiment matrix into concrete solver configs.
package matrix

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptyAxis is returned when any axis of a matrix has no values.
	ErrEmptyAxis = errors.New("matrix axis is empty")

	// ErrTooLarge is returned by Expand when the product of the axes does
	// not fit in an int.
	ErrTooLarge = errors.New("matrix is too large")
)

// ExperimentMatrix holds the four axes a solve explores.
type ExperimentMatrix struct {
	Models              []string  `json:"models"`
	Temperatures        []float64 `json:"temperatures"`
	MaxEditBudgets      []int     `json:"max_edit_budgets"`
	EvolutionStrategies []string  `json:"evolution_strategies"`
}

// UnmarshalJSON accepts the short axis names (temps, max_edits, evolution)
// used by older clients alongside the canonical ones.
func (m *ExperimentMatrix) UnmarshalJSON(data []byte) error {
	var raw struct {
		Models              []string  `json:"models"`
		Temperatures        []float64 `json:"temperatures"`
		Temps               []float64 `json:"temps"`
		MaxEditBudgets      []int     `json:"max_edit_budgets"`
		MaxEdits            []int     `json:"max_edits"`
		EvolutionStrategies []string  `json:"evolution_strategies"`
		Evolution           []string  `json:"evolution"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = ExperimentMatrix{
		Models:              raw.Models,
		Temperatures:        firstNonEmpty(raw.Temperatures, raw.Temps),
		MaxEditBudgets:      firstNonEmpty(raw.MaxEditBudgets, raw.MaxEdits),
		EvolutionStrategies: firstNonEmpty(raw.EvolutionStrategies, raw.Evolution),
	}
	return nil
}

func firstNonEmpty[T any](a, b []T) []T {
	if len(a) > 0 {
		return a
	}
	return b
}

// ExperimentConfig is one point of the matrix. Ordinal is its position in
// expansion order and is stable for identical input.
type ExperimentConfig struct {
	Ordinal     int     `json:"ordinal"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxEdits    int     `json:"max_edits"`
	Evolution   string  `json:"evolution"`
}

// Size is the number of configs Expand would produce. A product that would
// overflow saturates at math.MaxInt, so size caps still reject it.
func (m ExperimentMatrix) Size() int {
	size := 1
	for _, n := range []int{len(m.Models), len(m.Temperatures), len(m.MaxEditBudgets), len(m.EvolutionStrategies)} {
		if n == 0 {
			return 0
		}
		if size > math.MaxInt/n {
			return math.MaxInt
		}
		size *= n
	}
	return size
}

// Validate reports the first empty axis, wrapping ErrEmptyAxis.
func (m ExperimentMatrix) Validate() error {
	axes := []struct {
		name string
		n    int
	}{
		{"models", len(m.Models)},
		{"temperatures", len(m.Temperatures)},
		{"max_edit_budgets", len(m.MaxEditBudgets)},
		{"evolution_strategies", len(m.EvolutionStrategies)},
	}
	for _, a := range axes {
		if a.n == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyAxis, a.name)
		}
	}
	return nil
}

// Expand returns the cartesian product of m with models outermost and
// evolution strategies innermost. Ordinals run 0..Size()-1.
func Expand(m ExperimentMatrix) ([]ExperimentConfig, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	size := m.Size()
	if size == math.MaxInt {
		return nil, ErrTooLarge
	}

	configs := make([]ExperimentConfig, 0, size)
	for _, model := range m.Models {
		for _, temp := range m.Temperatures {
			for _, edits := range m.MaxEditBudgets {
				for _, evo := range m.EvolutionStrategies {
					configs = append(configs, ExperimentConfig{
						Ordinal:     len(configs),
						Model:       model,
						Temperature: temp,
						MaxEdits:    edits,
						Evolution:   evo,
					})
				}
			}
		}
	}
	return configs, nil
}
