package suitpay

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error is a failed SuitPay call. Transport failures carry Err, API
// rejections carry StatusCode and the provider's Message.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Timeout    bool
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.StatusCode != 0:
		return fmt.Sprintf("suitpay %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	case e.Message != "":
		return fmt.Sprintf("suitpay %s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("suitpay %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("suitpay %s: status %d", e.Op, e.StatusCode)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func transportError(op string, err error) *Error {
	return &Error{Op: op, Err: err, Timeout: isTimeout(err)}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
