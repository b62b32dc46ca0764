package ghost

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound reports that a derived account does not exist on chain yet.
// Callers treat it as "no data", not as a failure.
var ErrNotFound = errors.New("account not found")

// DecodeError reports that raw account bytes do not match the expected
// layout. It is returned instead of a partially populated record.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "decode: " + e.Reason
}

func decodeErrorf(format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// InvalidArgument reports a locally rejected input, before any network call.
type InvalidArgument struct {
	Reason string
}

func (e *InvalidArgument) Error() string {
	return "invalid argument: " + e.Reason
}

func invalidArgf(format string, args ...any) *InvalidArgument {
	return &InvalidArgument{Reason: fmt.Sprintf(format, args...)}
}

// RejectionKind is a coarse classification of a remote failure message.
// The raw message is always preserved; the kind is a hint, not a verdict.
type RejectionKind string

const (
	RejectionSlippage     RejectionKind = "slippage"
	RejectionUnauthorized RejectionKind = "unauthorized"
	RejectionMarketState  RejectionKind = "market_state"
	RejectionUnknown      RejectionKind = "unknown"
)

// RemoteRejected wraps a transaction failure returned by the cluster.
type RemoteRejected struct {
	Message string
	Kind    RejectionKind
}

func (e *RemoteRejected) Error() string {
	return "transaction rejected: " + e.Message
}

// classifyRejection maps well-known program error messages onto a
// RejectionKind. Unrecognized messages pass through as RejectionUnknown.
func classifyRejection(message string) *RemoteRejected {
	lower := strings.ToLower(message)
	kind := RejectionUnknown
	switch {
	case strings.Contains(lower, "slippage"):
		kind = RejectionSlippage
	case strings.Contains(lower, "unauthorized"):
		kind = RejectionUnauthorized
	case strings.Contains(lower, "not active"),
		strings.Contains(lower, "locked"),
		strings.Contains(lower, "not expired"),
		strings.Contains(lower, "not resolved"),
		strings.Contains(lower, "already resolved"),
		strings.Contains(lower, "not cancelled"):
		kind = RejectionMarketState
	}
	return &RemoteRejected{Message: message, Kind: kind}
}
