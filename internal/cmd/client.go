package cmd

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/capacitor-hq/capd/internal/protocol"
)

// daemonVersion is stamped into get_health responses. Bumped by hand
// alongside protocol.Version when the wire contract changes.
const daemonVersion = "0.1.0"

const clientDialTimeout = 500 * time.Millisecond

// isDaemonHealthy reports whether a capd daemon is listening on
// socketPath and answers get_health successfully.
func isDaemonHealthy(socketPath string) bool {
	resp, err := callDaemon(socketPath, protocol.MethodGetHealth, nil)
	return err == nil && resp != nil
}

// callDaemon issues one RPC call over the daemon socket and returns the
// raw data payload.
func callDaemon(socketPath string, method protocol.Method, params json.RawMessage) (json.RawMessage, error) {
	conn, err := net.DialTimeout("unix", socketPath, clientDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w", err)
	}
	defer conn.Close()

	req := protocol.Request{
		ProtocolVersion: protocol.Version,
		Method:          string(method),
		ID:              "capd-cli",
		Params:          params,
	}
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	var resp protocol.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if !resp.OK {
		if resp.Error != nil {
			return nil, fmt.Errorf("daemon error: %s: %s", resp.Error.Code, resp.Error.Message)
		}
		return nil, fmt.Errorf("daemon returned an unspecified error")
	}
	return resp.Data, nil
}
