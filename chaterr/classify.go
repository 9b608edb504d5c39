package chaterr

import (
	"context"
	"errors"
	"io"
)

// ClassifyTransport maps a read/write error into a transport-stage Code.
//
// EOF and its "unexpected" sibling both collapse to CodeEOF: both mean the
// peer is gone, and the session loop treats them identically.
func ClassifyTransport(err error) Code {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return CodeEOF
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	default:
		return CodeWriteFailed
	}
}
