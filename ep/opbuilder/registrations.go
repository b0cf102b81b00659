package opbuilder

import (
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/pkg/errors"
)

// Registrations is the immutable table mapping ONNX operator types to their Validator.
//
// It is safe for concurrent use.
type Registrations struct {
	validators map[string]Validator
	supported  sets.Set[string]
}

// NewRegistrations creates a table with the given validators, keyed by their OpType.
//
// It returns an error if two validators are registered for the same operator type.
func NewRegistrations(validators ...Validator) (*Registrations, error) {
	var r *Registrations
	err := exceptions.TryCatch[error](func() { r = newRegistrations(validators) })
	if err != nil {
		return nil, errors.WithMessage(err, "opbuilder.NewRegistrations()")
	}
	return r, nil
}

func newRegistrations(validators []Validator) *Registrations {
	r := &Registrations{
		validators: make(map[string]Validator, len(validators)),
		supported:  sets.Make[string](len(validators)),
	}
	for _, v := range validators {
		opType := v.OpType()
		if r.supported.Has(opType) {
			exceptions.Panicf("operator type %q registered twice (%s and %s)", opType,
				r.validators[opType].BuilderType(), v.BuilderType())
		}
		r.validators[opType] = v
		r.supported.Insert(opType)
	}
	return r
}

// Default returns the process-wide table with every operator type supported by the QNN backend.
// It is built on first use.
var Default = sync.OnceValue(func() *Registrations {
	r, err := NewRegistrations(DefaultValidators()...)
	if err != nil {
		panic(err)
	}
	return r
})

// Lookup returns the validator registered for opType. Not finding it is not an error, it only means
// the operator is not supported.
func (r *Registrations) Lookup(opType string) (v Validator, found bool) {
	v, found = r.validators[opType]
	return
}

// IsSupported returns whether opType has a registered validator.
func (r *Registrations) IsSupported(opType string) bool {
	return r.supported.Has(opType)
}

// SupportedTypes returns a copy of the set of supported operator types.
func (r *Registrations) SupportedTypes() sets.Set[string] {
	s := sets.Make[string](len(r.supported))
	for opType := range r.supported {
		s.Insert(opType)
	}
	return s
}

// SortedTypes returns the supported operator types in alphabetical order.
func (r *Registrations) SortedTypes() []string {
	types := make([]string, 0, len(r.supported))
	for opType := range r.supported {
		types = append(types, opType)
	}
	slices.Sort(types)
	return types
}

// Len returns the number of registered operator types.
func (r *Registrations) Len() int { return len(r.validators) }

// elementTypePolicies lists the operators whose element type policy differs from AllFloat.
var elementTypePolicies = map[string]ElementTypePolicy{
	// Data movement.
	"Cast":           TypeAgnostic,
	"Reshape":        TypeAgnostic,
	"Transpose":      TypeAgnostic,
	"Squeeze":        TypeAgnostic,
	"Unsqueeze":      TypeAgnostic,
	"Flatten":        TypeAgnostic,
	"DepthToSpace":   TypeAgnostic,
	"SpaceToDepth":   TypeAgnostic,
	"Gather":         TypeAgnostic,
	"GatherElements": TypeAgnostic,
	"ScatterND":      TypeAgnostic,
	"Slice":          TypeAgnostic,
	"Split":          TypeAgnostic,
	"Concat":         TypeAgnostic,
	"Tile":           TypeAgnostic,
	"Expand":         TypeAgnostic,
	"Pad":            TypeAgnostic,

	// Float data with integer parameters.
	"Resize":   FloatData,
	"Upsample": FloatData,
	"CumSum":   FloatData,

	"Equal":          Comparison,
	"Greater":        Comparison,
	"GreaterOrEqual": Comparison,
	"Less":           Comparison,
	"LessOrEqual":    Comparison,

	"And": Logical,
	"Or":  Logical,
	"Not": Logical,

	"Where": Select,

	"ArgMax": ArgIndex,
	"ArgMin": ArgIndex,
	"TopK":   TopKIndex,
}

// DefaultValidators creates one validator per supported operator type.
func DefaultValidators() []Validator {
	opTypes := make([]string, 0, len(arities))
	for opType := range arities {
		opTypes = append(opTypes, opType)
	}
	slices.Sort(opTypes)

	validators := make([]Validator, 0, len(opTypes))
	for _, opType := range opTypes {
		arity := arities[opType]
		policy, found := elementTypePolicies[opType]
		if !found {
			policy = AllFloat
		}
		var v Validator
		switch opType {
		case "Concat", "Sum":
			v = NewVariadicOpBuilder(opType, arity, policy, false)
		case "Split":
			v = NewVariadicOpBuilder(opType, arity, policy, true)
		case "QuantizeLinear":
			v = NewQDQOpBuilder(true)
		case "DequantizeLinear":
			v = NewQDQOpBuilder(false)
		case "LSTM":
			v = NewRecurrentOpBuilder()
		default:
			v = NewSimpleOpBuilder(opType, arity, policy)
		}
		validators = append(validators, v)
	}
	return validators
}
