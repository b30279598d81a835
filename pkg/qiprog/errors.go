package qiprog

import (
	"errors"
	"fmt"

	"qiprog/internal/hostdrv"
	"qiprog/internal/qierr"
	"qiprog/internal/transport"
)

// Error is the typed error every public operation returns (spec §6): a
// numeric code from the QiProg taxonomy plus, where available, the
// underlying cause for logging.
type Error struct {
	Code  qierr.Code
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("qiprog: %s: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("qiprog: %s", e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(code qierr.Code, cause error) *Error {
	return &Error{Code: code, Cause: cause}
}

// classify maps an internal error from hostdrv/transport onto the public
// taxonomy (spec §7): this is the sole classification boundary.
func classify(err error) *Error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, hostdrv.ErrArgument):
		return newError(qierr.Arg, err)
	case errors.Is(err, transport.ErrTimeout):
		return newError(qierr.Timeout, err)
	case errors.Is(err, hostdrv.ErrPartialTransfer):
		return newError(qierr.Generic, err)
	default:
		return newError(qierr.Generic, err)
	}
}
