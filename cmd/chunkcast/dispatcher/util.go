package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
)

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
