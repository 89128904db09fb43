package fit

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedHeader      = errors.New("malformed file header")
	ErrMalformedDefinition  = errors.New("malformed definition record")
	ErrMalformedDataMessage = errors.New("malformed data message")
	ErrChecksumMismatch     = errors.New("checksum mismatch")
	ErrTruncatedStream      = errors.New("truncated stream")
	ErrMalformedStream      = errors.New("malformed stream")
)

// StreamError locates a decode or encode failure in the byte stream. Kind is
// one of the sentinel errors above, so errors.Is(err, ErrMalformedDefinition)
// works on a *StreamError.
type StreamError struct {
	Kind   error
	Offset int64
	Global uint16
	Local  uint8
	Reason string
}

func (e *StreamError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Global != 0 || e.Local != 0 {
		return fmt.Sprintf("offset %d: %v (global %d, local %d): %s", e.Offset, e.Kind, e.Global, e.Local, e.Reason)
	}
	return fmt.Sprintf("offset %d: %v: %s", e.Offset, e.Kind, e.Reason)
}

func (e *StreamError) Is(target error) bool {
	return e != nil && e.Kind == target
}

func (e *StreamError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}

// Anomaly names one of the input classes the Policy can discard.
type Anomaly uint8

const (
	AnomalyNone Anomaly = iota
	AnomalyRedefinition
	AnomalyUnknownBaseType
	AnomalyInvalidGlobal
	AnomalyUnsupportedArch
	AnomalyOversizedMessage
	AnomalyImplausibleRecord
	AnomalyMisplacedFileID
)

var anomalyNames = map[Anomaly]string{
	AnomalyNone:              "none",
	AnomalyRedefinition:      "redefinition",
	AnomalyUnknownBaseType:   "unknown_base_type",
	AnomalyInvalidGlobal:     "invalid_global",
	AnomalyUnsupportedArch:   "unsupported_arch",
	AnomalyOversizedMessage:  "oversized_message",
	AnomalyImplausibleRecord: "implausible_record",
	AnomalyMisplacedFileID:   "misplaced_file_id",
}

func (a Anomaly) String() string {
	if name, ok := anomalyNames[a]; ok {
		return name
	}
	return fmt.Sprintf("anomaly(%d)", uint8(a))
}

// Definition reports whether the anomaly is detected on a definition record.
func (a Anomaly) Definition() bool {
	switch a {
	case AnomalyRedefinition, AnomalyUnknownBaseType, AnomalyInvalidGlobal, AnomalyUnsupportedArch:
		return true
	}
	return false
}

func (a Anomaly) kind() error {
	if a.Definition() {
		return ErrMalformedDefinition
	}
	return ErrMalformedDataMessage
}

// Action records what the decoder did about an issue.
type Action uint8

const (
	ActionTolerated Action = iota
	ActionDiscardedDefinition
	ActionDiscardedMessage
)

func (a Action) String() string {
	switch a {
	case ActionDiscardedDefinition:
		return "discarded_definition"
	case ActionDiscardedMessage:
		return "discarded_message"
	default:
		return "tolerated"
	}
}

// Issue is a non-fatal problem found while decoding.
type Issue struct {
	Action  Action
	Anomaly Anomaly
	Err     *StreamError
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %v", i.Action, i.Err)
}
