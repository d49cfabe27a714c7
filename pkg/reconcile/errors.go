package reconcile

import (
	"errors"
	"fmt"
)

var (
	ErrEmptySelection   = errors.New("no items selected")
	ErrSubmitInProgress = errors.New("a submission is already in progress")
)

// MissingRemarksError is returned when selected tasks have blank remarks.
type MissingRemarksError struct {
	IDs []string
}

func (e *MissingRemarksError) Count() int {
	return len(e.IDs)
}

func (e *MissingRemarksError) Error() string {
	return fmt.Sprintf("%d selected item(s) are missing remarks", e.Count())
}

// RemoteWriteError reports a background write that did not succeed. Local state has
// already been committed when it is produced.
type RemoteWriteError struct {
	Attempts int
	Err      error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("remote write failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *RemoteWriteError) Unwrap() error {
	return e.Err
}

// UserMessage returns the text shown to the reviewer for a Submit error.
func UserMessage(err error) string {
	var missing *MissingRemarksError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptySelection):
		return "Please select at least one item to submit"
	case errors.As(err, &missing):
		return fmt.Sprintf("Please provide remarks for all selected items. %d item(s) are missing remarks.", missing.Count())
	case errors.Is(err, ErrSubmitInProgress):
		return "A submission is already in progress. Please wait for it to finish."
	default:
		return err.Error()
	}
}
