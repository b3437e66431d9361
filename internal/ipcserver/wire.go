package ipcserver

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"time"

	"github.com/capacitor-hq/capd/internal/protocol"
)

var errRequestTooLarge = errors.New("request exceeds size limit")

// limitedReader caps how much a single connection can send before the
// decoder gives up, so a misbehaving client can't hold a request-handling
// goroutine open with a slow, unbounded stream (§4.D).
type limitedReader struct {
	r io.Reader
	n int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.n <= 0 {
		return 0, errRequestTooLarge
	}
	if int64(len(p)) > l.n {
		p = p[:l.n]
	}
	n, err := l.r.Read(p)
	l.n -= int64(n)
	return n, err
}

func errorResponse(id string, code protocol.ErrorCode, msg string) protocol.Response {
	return protocol.Response{
		OK:    false,
		ID:    id,
		Error: &protocol.ErrorPayload{Code: code, Message: msg},
	}
}

func okResponse(id string, data json.RawMessage) protocol.Response {
	return protocol.Response{OK: true, ID: id, Data: data}
}

func writeResponse(conn *net.UnixConn, resp protocol.Response, timeout time.Duration) {
	conn.SetWriteDeadline(time.Now().Add(timeout))
	enc := json.NewEncoder(conn)
	_ = enc.Encode(resp)
}
