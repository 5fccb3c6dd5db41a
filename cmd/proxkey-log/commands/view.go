package commands

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/proxkey/proxkey-go/pkg/log"
)

// RunView prints the matching events of path.
func RunView(path string, filter log.Filter, w io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event)
	}
}

// formatEvent writes a header line followed by type-specific details.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s %-6s [conn:%s] %-3s %s %s\n",
		ts, event.LocalRole, shortenConnID(event.ConnectionID),
		event.Direction, event.Layer, eventType(event))

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Command != nil:
		formatCommandDetails(w, event.Command)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Ranging != nil:
		formatRangingDetails(w, event.Ranging)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// eventType names the payload an event carries.
func eventType(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Command != nil:
		return "Command"
	case event.StateChange != nil:
		return "State"
	case event.Ranging != nil:
		return "Ranging"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatCommandDetails(w io.Writer, cmd *log.CommandEvent) {
	fmt.Fprintf(w, "  Token: %s", cmd.Token)
	if !cmd.Known {
		fmt.Fprintf(w, " (unknown)")
	}
	fmt.Fprintln(w)
	if cmd.Payload != "" {
		fmt.Fprintf(w, "  Payload: %s\n", cmd.Payload)
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatRangingDetails(w io.Writer, r *log.RangingEvent) {
	fmt.Fprintf(w, "  Seq: %d  Outcome: %s\n", r.Seq, r.Outcome)
	if r.Outcome != "OK" {
		return
	}
	fmt.Fprintf(w, "  Distance: %.3f m\n", r.DistanceM)
	fmt.Fprintf(w, "  Poll tx/rx: %d / %d\n", r.PollTxTS, r.PollRxTS)
	fmt.Fprintf(w, "  Resp tx/rx: %d / %d\n", r.RespTxTS, r.RespRxTS)
	if r.ClockOffsetRatio != 0 {
		fmt.Fprintf(w, "  Clock offset: %.3f ppm\n", r.ClockOffsetRatio*1e6)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}
