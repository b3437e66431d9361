package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/capacitor-hq/capd/internal/protocol"
)

// rawHookPayload is the assistant CLI's hook stdin JSON. Only the fields
// capd cares about are decoded; anything else is ignored.
type rawHookPayload struct {
	SessionID        string `json:"session_id"`
	CWD              string `json:"cwd"`
	TranscriptPath   string `json:"transcript_path"`
	NotificationType string `json:"notification_type"`
	StopHookActive   *bool  `json:"stop_hook_active"`
	ToolName         string `json:"tool_name"`
	Auto             bool   `json:"auto"`
	WorkingOn        string `json:"working_on"`
}

var hookForwardEvent string

var hookForwardCmd = &cobra.Command{
	Use:    "hook-forward",
	Short:  "Relay one hook invocation's stdin JSON to the daemon as an event (internal; used by hooks install)",
	Hidden: true,
	RunE:   runHookForward,
}

func init() {
	hookForwardCmd.Flags().StringVar(&hookForwardEvent, "event", "", "event type this hook invocation represents")
	rootCmd.AddCommand(hookForwardCmd)
}

func runHookForward(cmd *cobra.Command, args []string) error {
	if hookForwardEvent == "" {
		return fmt.Errorf("--event is required")
	}

	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading hook stdin: %w", err)
	}

	var raw rawHookPayload
	if len(body) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			// A hook misfire shouldn't break the assistant CLI; log and exit clean.
			fmt.Fprintf(os.Stderr, "capd hook-forward: malformed hook payload: %v\n", err)
			return nil
		}
	}

	ev := protocol.Event{
		EventID:          uuid.NewString(),
		RecordedAt:       time.Now().UTC().Format(time.RFC3339),
		EventType:        protocol.EventType(hookForwardEvent),
		SessionID:        raw.SessionID,
		PID:              os.Getppid(),
		CWD:              raw.CWD,
		NotificationType: raw.NotificationType,
		StopHookActive:   raw.StopHookActive,
		PreCompactAuto:   raw.Auto,
		ToolName:         raw.ToolName,
		WorkingOn:        raw.WorkingOn,
	}

	params, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	paths, err := resolveRuntimePaths()
	if err != nil {
		return nil // no runtime dir means no daemon to forward to
	}
	if _, err := callDaemon(paths.socket, protocol.MethodEvent, params); err != nil {
		// The daemon being unreachable must never fail the hook invocation.
		fmt.Fprintf(os.Stderr, "capd hook-forward: %v\n", err)
	}
	return nil
}
