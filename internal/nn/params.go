// Package nn holds trainable parameter sets and the small layers the anomaly
// networks are built from.
package nn

import (
	"fmt"
	"sort"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/models"
)

// Param is a named trainable tensor that belongs to one group.
type Param struct {
	Name   string
	Group  string
	Tensor *autograd.Tensor
}

// ParamSet is the ordered collection of a network's parameters.
type ParamSet struct {
	params []*Param
	index  map[string]*Param
}

// NewParamSet creates an empty parameter set
func NewParamSet() *ParamSet {
	return &ParamSet{index: make(map[string]*Param)}
}

// Register adds a new parameter. Registering the same name twice panics.
func (s *ParamSet) Register(group, name string, rows, cols int, init []float64) *autograd.Tensor {
	if _, exists := s.index[name]; exists {
		panic(fmt.Sprintf("nn: duplicate parameter %q", name))
	}
	if group == "" {
		group = constants.GroupDefault
	}
	t := autograd.Param(rows, cols, init)
	p := &Param{Name: name, Group: group, Tensor: t}
	s.params = append(s.params, p)
	s.index[name] = p
	return t
}

// Params returns every parameter in registration order
func (s *ParamSet) Params() []*Param {
	return s.params
}

// Get returns the parameter with the given name
func (s *ParamSet) Get(name string) (*Param, bool) {
	p, ok := s.index[name]
	return p, ok
}

// Group returns the parameters of one group in registration order
func (s *ParamSet) Group(group string) []*Param {
	var out []*Param
	for _, p := range s.params {
		if p.Group == group {
			out = append(out, p)
		}
	}
	return out
}

// Groups returns the distinct group names, sorted
func (s *ParamSet) Groups() []string {
	seen := make(map[string]bool)
	for _, p := range s.params {
		seen[p.Group] = true
	}
	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// ZeroGrad clears gradients of the named groups, or of every parameter when
// no group is given.
func (s *ParamSet) ZeroGrad(groups ...string) {
	if len(groups) == 0 {
		for _, p := range s.params {
			p.Tensor.ZeroGrad()
		}
		return
	}
	for _, g := range groups {
		for _, p := range s.Group(g) {
			p.Tensor.ZeroGrad()
		}
	}
}

// Size returns the total number of scalar parameters
func (s *ParamSet) Size() int {
	n := 0
	for _, p := range s.params {
		n += p.Tensor.Len()
	}
	return n
}

// State returns a deep copy of every parameter value
func (s *ParamSet) State() []models.ParamState {
	out := make([]models.ParamState, 0, len(s.params))
	for _, p := range s.params {
		values := make([]float64, p.Tensor.Len())
		copy(values, p.Tensor.Data)
		out = append(out, models.ParamState{
			Name:   p.Name,
			Group:  p.Group,
			Rows:   p.Tensor.Rows,
			Cols:   p.Tensor.Cols,
			Values: values,
		})
	}
	return out
}

// ValidateState checks that a snapshot matches this set exactly
func (s *ParamSet) ValidateState(state []models.ParamState) error {
	if len(state) != len(s.params) {
		return errors.NewCheckpointError(errors.CodeCheckpointMismatch,
			fmt.Sprintf("snapshot has %d parameters, network has %d", len(state), len(s.params)))
	}
	for _, ps := range state {
		p, ok := s.index[ps.Name]
		if !ok {
			return errors.NewCheckpointError(errors.CodeCheckpointMismatch,
				fmt.Sprintf("unknown parameter %q", ps.Name))
		}
		if ps.Rows != p.Tensor.Rows || ps.Cols != p.Tensor.Cols || len(ps.Values) != p.Tensor.Len() {
			return errors.NewCheckpointError(errors.CodeCheckpointMismatch,
				fmt.Sprintf("parameter %q shape %dx%d does not match %dx%d",
					ps.Name, ps.Rows, ps.Cols, p.Tensor.Rows, p.Tensor.Cols))
		}
	}
	return nil
}

// LoadState overwrites parameter values from a snapshot. Nothing is changed
// if the snapshot does not validate.
func (s *ParamSet) LoadState(state []models.ParamState) error {
	if err := s.ValidateState(state); err != nil {
		return err
	}
	for _, ps := range state {
		p := s.index[ps.Name]
		copy(p.Tensor.Data, ps.Values)
		p.Tensor.ZeroGrad()
	}
	return nil
}
