package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/proxkey/proxkey-go/pkg/log"
)

// FilterOptions holds the event selection flags. Empty fields match
// everything.
type FilterOptions struct {
	Output    string
	ConnID    string
	VehicleID string
	Role      string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
}

// Filter converts the options into a log.Filter.
func (o FilterOptions) Filter() (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: o.ConnID,
		VehicleID:    o.VehicleID,
	}

	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	if o.Layer != "" {
		l, err := parseLayer(o.Layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}
	if o.Direction != "" {
		d, err := parseDirection(o.Direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}
	if o.Category != "" {
		c, err := parseCategory(o.Category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	if o.Role != "" {
		r, err := parseRole(o.Role)
		if err != nil {
			return filter, err
		}
		filter.Role = &r
	}
	return filter, nil
}

// RunFilter copies the matching events of path into opts.Output.
func RunFilter(path string, opts FilterOptions, w io.Writer) error {
	if opts.Output == "" {
		return fmt.Errorf("output file required")
	}
	filter, err := opts.Filter()
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return fmt.Errorf("failed to create output logger: %w", err)
	}

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Close()
			return fmt.Errorf("failed to read event: %w", err)
		}
		logger.Log(event)
		count++
	}
	if err := logger.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.Output, err)
	}

	fmt.Fprintf(w, "Filtered %d events to %s\n", count, opts.Output)
	return nil
}

func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "link":
		return log.LayerLink, nil
	case "command":
		return log.LayerCommand, nil
	case "session":
		return log.LayerSession, nil
	case "ranging":
		return log.LayerRanging, nil
	case "vehicle":
		return log.LayerVehicle, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be link, command, session, ranging or vehicle)", s)
	}
}

func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	case "none", "-":
		return log.DirectionNone, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in, out or none)", s)
	}
}

func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	case "measurement":
		return log.CategoryMeasurement, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, state, error or measurement)", s)
	}
}

func parseRole(s string) (log.Role, error) {
	switch strings.ToLower(s) {
	case "anchor":
		return log.RoleAnchor, nil
	case "tag":
		return log.RoleTag, nil
	case "authority":
		return log.RoleAuthority, nil
	default:
		return 0, fmt.Errorf("invalid role: %s (must be anchor, tag or authority)", s)
	}
}
