// Package opbuilder holds the per-operator validators of the QNN execution provider and the
// registry mapping ONNX operator types to them.
//
//   - Validator: decides whether one node can be offloaded, based on static, shape independent
//     constraints (input/output counts and element types).
//   - Registrations: the immutable table of supported operator types, see Default and NewRegistrations.
//
// A rejected node is not a fault: Validate returns a *Rejection, which callers classify as
// "not supported". Any other error returned by Validate is a fault of the host graph queries.
package opbuilder

import (
	"fmt"

	"github.com/gomlx/qnn-ep/hostgraph"
	"github.com/pkg/errors"
)

// Validator checks whether a node of one operator type is supported.
//
// Validators are stateless after construction and safe for concurrent use.
// They must not retain the node after Validate returns.
type Validator interface {
	// OpType is the ONNX operator type this validator was registered for.
	OpType() string

	// BuilderType names the family of validator, e.g. "SimpleOpBuilder".
	BuilderType() string

	// QnnOpType is the name of the corresponding QNN operator.
	QnnOpType() string

	// Validate returns nil if the node is supported, a *Rejection if it is not, or any other error
	// if querying the node failed.
	Validate(node hostgraph.Node) error
}

// Rejection reasons.
const (
	ReasonInvalidCount       = "invalid input/output count"
	ReasonUnsupportedType    = "unsupported element type"
	ReasonUnsupportedOp      = "unsupported operation type"
	ReasonUnsupportedAttrVal = "unsupported attribute value"
)

// Rejection is the error returned by a Validator when a node is not supported.
type Rejection struct {
	// Node description, see hostgraph.NodeToString.
	Node string

	// Reason is one of the Reason* constants.
	Reason string

	// Details is a free form explanation of the failed constraint.
	Details string
}

// Error implements error.
func (r *Rejection) Error() string {
	if r.Details == "" {
		return fmt.Sprintf("%s not supported: %s", r.Node, r.Reason)
	}
	return fmt.Sprintf("%s not supported: %s (%s)", r.Node, r.Reason, r.Details)
}

// reject creates a *Rejection for the node.
func reject(node hostgraph.Node, reason, format string, args ...any) error {
	return &Rejection{
		Node:    hostgraph.NodeToString(node),
		Reason:  reason,
		Details: fmt.Sprintf(format, args...),
	}
}

// AsRejection returns the *Rejection in err's chain, if there is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// IsRejection returns whether err is (or wraps) a *Rejection.
func IsRejection(err error) bool {
	_, ok := AsRejection(err)
	return ok
}
