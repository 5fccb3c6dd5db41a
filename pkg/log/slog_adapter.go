package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes events to an slog.Logger at Debug level, with errors
// at Warn.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates an adapter over logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("role", event.LocalRole.String()),
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.VehicleID != "" {
		attrs = append(attrs, slog.String("vehicle_id", event.VehicleID))
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}

	level := slog.LevelDebug

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Command != nil:
		attrs = append(attrs,
			slog.String("token", event.Command.Token),
			slog.Bool("known", event.Command.Known),
		)
		if event.Command.Payload != "" {
			attrs = append(attrs, slog.String("payload", event.Command.Payload))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Ranging != nil:
		attrs = append(attrs,
			slog.Uint64("seq", uint64(event.Ranging.Seq)),
			slog.String("outcome", event.Ranging.Outcome),
			slog.Float64("distance_m", event.Ranging.DistanceM),
			slog.Float64("clock_offset", event.Ranging.ClockOffsetRatio),
		)
	case event.Error != nil:
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), level, "protocol", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
