package poll

import (
	"context"
	stderrors "errors"

	"github.com/devpoll/devpoll/internal/errors"
)

// KindOf classifies err by the code of its outermost structured error.
// Unstructured errors count as exec errors, except deadline expiry.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	switch errors.CodeOf(err) {
	case errors.ErrUnreachable:
		return KindUnreachable
	case errors.ErrTimeout:
		return KindTimeout
	case errors.ErrConnect, errors.ErrSSH:
		return KindConnect
	case errors.ErrExec:
		return KindExec
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindExec
}
