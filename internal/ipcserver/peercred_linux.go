//go:build linux

package ipcserver

import (
	"net"
	"syscall"
)

// peerCredentialCheckSupported reports whether handleConn can verify the
// connecting peer's UID on this platform.
const peerCredentialCheckSupported = true

// peerUID extracts the connecting process's UID via SO_PEERCRED, the
// standard Linux mechanism for Unix-socket peer credentials.
func peerUID(conn *net.UnixConn) (uint32, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var uid uint32
	var sysErr error
	err = raw.Control(func(fd uintptr) {
		ucred, e := syscall.GetsockoptUcred(int(fd), syscall.SOL_SOCKET, syscall.SO_PEERCRED)
		if e != nil {
			sysErr = e
			return
		}
		uid = ucred.Uid
	})
	if err != nil {
		return 0, err
	}
	return uid, sysErr
}
