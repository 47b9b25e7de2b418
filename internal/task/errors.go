package task

import "errors"

var ErrRunnerClosed = errors.New("task runner closed")

type permanentError struct {
	err error
}

// Permanent marks an error as not worth retrying; the runner fails the
// run immediately instead of burning through the attempt budget.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
