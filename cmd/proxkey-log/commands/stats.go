package commands

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/proxkey/proxkey-go/pkg/log"
)

// Stats holds aggregate statistics about a capture.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Commands          map[string]int
	Connections       map[string]*ConnectionStats
	Ranging           RangingStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single connection.
type ConnectionStats struct {
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
	RemoteAddr string
}

// RangingStats summarizes ranging attempts.
type RangingStats struct {
	Attempts  int
	Failures  map[string]int
	Successes int
	MinM      float64
	MaxM      float64
	sumM      float64
}

// MeanM returns the mean distance of successful attempts.
func (r *RangingStats) MeanM() float64 {
	if r.Successes == 0 {
		return 0
	}
	return r.sumM / float64(r.Successes)
}

func (r *RangingStats) add(ev *log.RangingEvent) {
	r.Attempts++
	if ev.Outcome != "OK" {
		r.Failures[ev.Outcome]++
		return
	}
	if r.Successes == 0 {
		r.MinM, r.MaxM = math.Inf(1), math.Inf(-1)
	}
	r.Successes++
	r.sumM += ev.DistanceM
	r.MinM = math.Min(r.MinM, ev.DistanceM)
	r.MaxM = math.Max(r.MaxM, ev.DistanceM)
}

// RunStats analyzes the capture and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Commands:          make(map[string]int),
		Connections:       make(map[string]*ConnectionStats),
		Ranging:           RangingStats{Failures: make(map[string]int)},
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByLayer[event.Layer]++
		stats.EventsByCategory[event.Category]++
		stats.EventsByDirection[event.Direction]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		if event.ConnectionID != "" {
			conn, ok := stats.Connections[event.ConnectionID]
			if !ok {
				conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
				stats.Connections[event.ConnectionID] = conn
			}
			conn.Events++
			if event.Timestamp.After(conn.LastSeen) {
				conn.LastSeen = event.Timestamp
			}
			if conn.RemoteAddr == "" {
				conn.RemoteAddr = event.RemoteAddr
			}
		}

		switch {
		case event.Command != nil:
			stats.Commands[event.Command.Token]++
		case event.Ranging != nil:
			stats.Ranging.add(event.Ranging)
		case event.Error != nil:
			stats.Errors++
		}
	}

	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Protocol Capture Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerLink, log.LayerCommand, log.LayerSession, log.LayerRanging, log.LayerVehicle} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryState, log.CategoryError, log.CategoryMeasurement} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut, log.DirectionNone} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.Commands) > 0 {
		tokens := make([]string, 0, len(stats.Commands))
		for tok := range stats.Commands {
			tokens = append(tokens, tok)
		}
		sort.Strings(tokens)

		fmt.Fprintln(w, "Commands:")
		for _, tok := range tokens {
			fmt.Fprintf(w, "  %-22s %d\n", tok+":", stats.Commands[tok])
		}
		fmt.Fprintln(w)
	}

	if r := stats.Ranging; r.Attempts > 0 {
		fmt.Fprintf(w, "Ranging: %d attempts, %d ok\n", r.Attempts, r.Successes)
		if r.Successes > 0 {
			fmt.Fprintf(w, "  Distance: mean %.3f m, min %.3f m, max %.3f m\n", r.MeanM(), r.MinM, r.MaxM)
		}
		outcomes := make([]string, 0, len(r.Failures))
		for o := range r.Failures {
			outcomes = append(outcomes, o)
		}
		sort.Strings(outcomes)
		for _, o := range outcomes {
			fmt.Fprintf(w, "  %-12s %d\n", o+":", r.Failures[o])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenConnID(c.id), c.stats.Events, duration)
			if c.stats.RemoteAddr != "" {
				fmt.Fprintf(w, "           Remote: %s\n", c.stats.RemoteAddr)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
