package grid

import (
	"errors"
	"fmt"

	"github.com/james-bowman/sparse"
)

// ErrMissingValue reports a lookup of a variable, matrix or parameter array
// that was never stored. It is never defaulted over.
var ErrMissingValue = errors.New("missing stored value")

// State is the per-entity store for everything that changes during a
// simulation: the current iterate of each variable, its previous-time-step
// values, cached discretization matrices, and keyword-namespaced parameter
// arrays. The accessors are the only way in or out; there is no ambient
// shared dictionary.
type State struct {
	values   map[string][]float64
	previous map[string][]float64
	matrices map[string]*sparse.CSR
	params   map[string]*Parameters
}

func NewState() *State {
	return &State{
		values:   make(map[string][]float64),
		previous: make(map[string][]float64),
		matrices: make(map[string]*sparse.CSR),
		params:   make(map[string]*Parameters),
	}
}

// Values returns the current iterate of variable. The slice is the stored
// backing array; callers other than the distribution step must not write it.
func (s *State) Values(variable string) ([]float64, error) {
	v, ok := s.values[variable]
	if !ok {
		return nil, fmt.Errorf("%w: variable %q has no current values", ErrMissingValue, variable)
	}
	return v, nil
}

func (s *State) SetValues(variable string, v []float64) {
	s.values[variable] = v
}

// AddValues increments the stored iterate of variable. Distribution of a
// solved increment is additive, never an overwrite.
func (s *State) AddValues(variable string, inc []float64) error {
	v, ok := s.values[variable]
	if !ok {
		return fmt.Errorf("%w: variable %q has no current values", ErrMissingValue, variable)
	}
	if len(v) != len(inc) {
		return fmt.Errorf("increment for %q has length %d, stored values have length %d",
			variable, len(inc), len(v))
	}
	for i := range v {
		v[i] += inc[i]
	}
	return nil
}

// PreviousValues returns the previous-time-step values of variable.
func (s *State) PreviousValues(variable string) ([]float64, error) {
	v, ok := s.previous[variable]
	if !ok {
		return nil, fmt.Errorf("%w: variable %q has no previous-step values", ErrMissingValue, variable)
	}
	return v, nil
}

func (s *State) SetPreviousValues(variable string, v []float64) {
	s.previous[variable] = v
}

// Matrix returns a cached discretization matrix by its full key
// (keyword-qualified by the discretizer that wrote it).
func (s *State) Matrix(key string) (*sparse.CSR, error) {
	m, ok := s.matrices[key]
	if !ok {
		return nil, fmt.Errorf("%w: no discretization matrix under key %q", ErrMissingValue, key)
	}
	return m, nil
}

// SetMatrix stores a discretization matrix, replacing any previous entry so
// that repeated discretization never accumulates.
func (s *State) SetMatrix(key string, m *sparse.CSR) {
	s.matrices[key] = m
}

// Parameters returns the parameter namespace for keyword, creating it if
// absent. Each physics keyword gets its own namespace so multi-physics
// setups cannot contaminate each other's inputs.
func (s *State) Parameters(keyword string) *Parameters {
	p, ok := s.params[keyword]
	if !ok {
		p = &Parameters{keyword: keyword, arrays: make(map[string][]float64)}
		s.params[keyword] = p
	}
	return p
}

// Parameters is one keyword-isolated set of named input arrays (boundary
// values, transmissibilities, source terms). Written by the caller, read by
// discretizations and grid operators under the same keyword only.
type Parameters struct {
	keyword string
	arrays  map[string][]float64
}

func (p *Parameters) Keyword() string { return p.keyword }

func (p *Parameters) Array(name string) ([]float64, error) {
	a, ok := p.arrays[name]
	if !ok {
		return nil, fmt.Errorf("%w: parameter %q not set under keyword %q", ErrMissingValue, name, p.keyword)
	}
	return a, nil
}

func (p *Parameters) SetArray(name string, v []float64) {
	p.arrays[name] = v
}
