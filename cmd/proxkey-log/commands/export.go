package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/proxkey/proxkey-go/pkg/log"
)

const timestampLayout = "2006-01-02T15:04:05.000000Z"

// record is the flattened export form of an event.
type record struct {
	Timestamp    string  `json:"timestamp" yaml:"timestamp"`
	Role         string  `json:"role" yaml:"role"`
	VehicleID    string  `json:"vehicle_id,omitempty" yaml:"vehicle_id,omitempty"`
	ConnectionID string  `json:"connection_id,omitempty" yaml:"connection_id,omitempty"`
	RemoteAddr   string  `json:"remote_addr,omitempty" yaml:"remote_addr,omitempty"`
	Direction    string  `json:"direction" yaml:"direction"`
	Layer        string  `json:"layer" yaml:"layer"`
	Category     string  `json:"category" yaml:"category"`
	Type         string  `json:"type" yaml:"type"`
	Token        string  `json:"token,omitempty" yaml:"token,omitempty"`
	Payload      string  `json:"payload,omitempty" yaml:"payload,omitempty"`
	FrameSize    int     `json:"frame_size,omitempty" yaml:"frame_size,omitempty"`
	Entity       string  `json:"entity,omitempty" yaml:"entity,omitempty"`
	OldState     string  `json:"old_state,omitempty" yaml:"old_state,omitempty"`
	NewState     string  `json:"new_state,omitempty" yaml:"new_state,omitempty"`
	Reason       string  `json:"reason,omitempty" yaml:"reason,omitempty"`
	Seq          *uint8  `json:"seq,omitempty" yaml:"seq,omitempty"`
	Outcome      string  `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	DistanceM    float64 `json:"distance_m,omitempty" yaml:"distance_m,omitempty"`
	Error        string  `json:"error,omitempty" yaml:"error,omitempty"`
	Context      string  `json:"context,omitempty" yaml:"context,omitempty"`
}

func toRecord(e log.Event) record {
	r := record{
		Timestamp:    e.Timestamp.UTC().Format(timestampLayout),
		Role:         e.LocalRole.String(),
		VehicleID:    e.VehicleID,
		ConnectionID: e.ConnectionID,
		RemoteAddr:   e.RemoteAddr,
		Direction:    e.Direction.String(),
		Layer:        e.Layer.String(),
		Category:     e.Category.String(),
		Type:         eventType(e),
	}
	switch {
	case e.Frame != nil:
		r.FrameSize = e.Frame.Size
	case e.Command != nil:
		r.Token = e.Command.Token
		r.Payload = e.Command.Payload
	case e.StateChange != nil:
		r.Entity = e.StateChange.Entity.String()
		r.OldState = e.StateChange.OldState
		r.NewState = e.StateChange.NewState
		r.Reason = e.StateChange.Reason
	case e.Ranging != nil:
		seq := e.Ranging.Seq
		r.Seq = &seq
		r.Outcome = e.Ranging.Outcome
		r.DistanceM = e.Ranging.DistanceM
	case e.Error != nil:
		r.Error = e.Error.Message
		r.Context = e.Error.Context
	}
	return r
}

// RunExport writes the matching events of path to w in format.
func RunExport(path string, filter log.Filter, format string, w io.Writer) error {
	var write func([]record) error
	switch format {
	case "jsonl":
		write = func(rs []record) error { return exportJSONL(rs, w) }
	case "csv":
		write = func(rs []record) error { return exportCSV(rs, w) }
	case "yaml":
		write = func(rs []record) error { return exportYAML(rs, w) }
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv, yaml)", format)
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	events, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read event: %w", err)
	}
	records := make([]record, 0, len(events))
	for _, e := range events {
		records = append(records, toRecord(e))
	}
	return write(records)
}

func exportJSONL(records []record, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for _, r := range records {
		if err := encoder.Encode(r); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

func exportYAML(records []record, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(records); err != nil {
		return fmt.Errorf("failed to encode events: %w", err)
	}
	return encoder.Close()
}

func exportCSV(records []record, w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{"timestamp", "role", "connection_id", "direction", "layer", "category", "type", "detail", "distance_m"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range records {
		detail := r.Token
		switch {
		case r.NewState != "":
			detail = r.Entity + ":" + r.NewState
		case r.Outcome != "":
			detail = r.Outcome
		case r.Error != "":
			detail = r.Error
		}
		distance := ""
		if r.DistanceM != 0 {
			distance = strconv.FormatFloat(r.DistanceM, 'f', 3, 64)
		}
		row := []string{r.Timestamp, r.Role, r.ConnectionID, r.Direction, r.Layer, r.Category, r.Type, detail, distance}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
