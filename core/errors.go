package core

import "fmt"

// Kind classifies a MeshError the way the original module's error taxonomy
// (ModuleError/RoutingError/PaymentVerification/...) let callers branch on
// category without string matching.
type Kind string

const (
	KindMeshDisabled        Kind = "mesh_disabled"
	KindInvalidPacket       Kind = "invalid_packet"
	KindPaymentVerification Kind = "payment_verification"
	KindReplayDetected      Kind = "replay_detected"
	KindRouteNotFound       Kind = "route_not_found"
	KindConfigError         Kind = "config_error"
	KindRoutingError        Kind = "routing_error"
	KindClassificationError Kind = "classification_error"
)

// MeshError is the error type surfaced across every core operation. Kind lets
// callers (via IsKind) tell errors that are terminal for a packet
// (InvalidPacket, ReplayDetected, MeshDisabled) from those that leave room
// for the caller to retry (RouteNotFound); the forwarder itself returns
// every error to its caller without branching on Kind.
type MeshError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *MeshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *MeshError) Unwrap() error { return e.Err }

// NewError builds a MeshError with no wrapped cause.
func NewError(kind Kind, msg string) *MeshError {
	return &MeshError{Kind: kind, Msg: msg}
}

// Wrapf builds a MeshError wrapping err with additional context, mirroring
// pkg/utils.Wrap but carrying a Kind so callers can still branch on it.
func Wrapf(kind Kind, err error, format string, args ...any) *MeshError {
	return &MeshError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err is a *MeshError of the given kind.
func IsKind(err error, kind Kind) bool {
	me, ok := err.(*MeshError)
	return ok && me.Kind == kind
}
