package dump

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRange means from >= to. Nothing is created.
	ErrInvalidRange = errors.New("invalid block range")
	// ErrStoreCreationFailed means the destination store could not be initialised.
	ErrStoreCreationFailed = errors.New("destination store creation failed")
	// ErrCopyFailed means a table copy was rolled back.
	ErrCopyFailed = errors.New("table copy failed")
	// ErrEmptySlice means the requested range produced no primary index records.
	ErrEmptySlice = errors.New("empty slice")
	// ErrStageExecutionFailed wraps the dry-run stage's own error.
	ErrStageExecutionFailed = errors.New("stage execution failed")
	// ErrUnknownStage means the stage identity is outside the supported set.
	ErrUnknownStage = errors.New("unknown stage")
)

// Error describes a failed dump. errors.Is matches both Kind and the
// underlying cause.
type Error struct {
	Kind  error
	Stage Stage
	From  uint64
	To    uint64
	Path  string
	Table string
	Phase Phase // last phase reached before the failure
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("dump %s blocks %d..%d to %q: %v", e.Stage, e.From, e.To, e.Path, e.Kind)
	if e.Table != "" {
		msg += " (table " + e.Table + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// withContext fills in the request fields an inner component did not know.
func withContext(err error, req Request, phase Phase) error {
	var de *Error
	if !errors.As(err, &de) {
		de = &Error{Kind: err}
	}
	if de.Stage == 0 {
		de.Stage = req.Stage
	}
	if de.From == 0 && de.To == 0 {
		de.From, de.To = req.From, req.To
	}
	if de.Path == "" {
		de.Path = req.OutputPath
	}
	de.Phase = phase
	return de
}
