package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrPanic converts a recovered panic value into an INTERNAL error.
func ErrPanic(r any) error {
	return ErrPanicMsg(r, "panic error")
}

func ErrPanicMsg(r any, msg string) error {
	if r == nil {
		return nil
	}
	err := ErrInternal.clone()
	err.Msg = msg
	err.Detail = fmt.Sprint(r)
	return errors.WithStack(err)
}
