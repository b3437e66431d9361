//go:build !linux

package ipcserver

import (
	"errors"
	"net"
)

// peerCredentialCheckSupported reports whether handleConn can verify the
// connecting peer's UID on this platform.
const peerCredentialCheckSupported = false

// peerUID is unsupported off Linux and always returns an error. handleConn
// does not call it on these platforms (peerCredentialCheckSupported is
// false), so connections here are accepted without a peer-UID check.
func peerUID(conn *net.UnixConn) (uint32, error) {
	return 0, errors.New("peer credential lookup not supported on this platform")
}
