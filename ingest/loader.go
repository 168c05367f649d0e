package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"warden/core"
	"warden/metrics"

	"go.uber.org/zap"
)

// Format names an input encoding
type Format string

const (
	FormatAuto    Format = "auto"
	FormatText    Format = "text"
	FormatMsgpack Format = "msgpack"
)

// maxLineSize bounds a single input line
const maxLineSize = 1024 * 1024

// Stats summarizes one load
type Stats struct {
	Lines    int `json:"lines" yaml:"lines"`
	JSON     int `json:"json" yaml:"json"`
	KV       int `json:"kv" yaml:"kv"`
	Msgpack  int `json:"msgpack" yaml:"msgpack"`
	Rejected int `json:"rejected" yaml:"rejected"`
}

// Events returns the number of records accepted
func (s Stats) Events() int {
	return s.JSON + s.KV + s.Msgpack
}

// Loader reads raw authentication logs into normalized events
type Loader struct {
	logger *zap.SugaredLogger
}

// NewLoader creates a loader
func NewLoader(logger *zap.SugaredLogger) *Loader {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Loader{logger: logger}
}

// DetectFormat picks a format from the file extension
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack", ".mpk", ".mp":
		return FormatMsgpack
	default:
		return FormatText
	}
}

// LoadFile reads, normalizes and chronologically sorts the events in path
func (l *Loader) LoadFile(path string, format Format) ([]core.Event, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if format == "" || format == FormatAuto {
		format = DetectFormat(path)
	}
	return l.Load(f, format)
}

// Load reads every record from r, normalizes it and sorts the result
func (l *Loader) Load(r io.Reader, format Format) ([]core.Event, Stats, error) {
	var events []core.Event
	collect := func(evt core.Event) error {
		events = append(events, evt)
		return nil
	}

	var (
		stats Stats
		err   error
	)
	switch format {
	case FormatMsgpack:
		stats, err = l.readMsgpack(r, collect)
	case FormatText, FormatAuto, "":
		stats, err = l.readText(r, collect)
	default:
		return nil, Stats{}, fmt.Errorf("unknown input format %q", format)
	}
	if err != nil {
		return nil, stats, err
	}

	SortChronological(events)
	l.logger.Infow("Loaded events", "events", len(events), "rejected", stats.Rejected, "format", format)
	return events, stats, nil
}

// Stream normalizes records from r in input order and sends them on out.
// Input is expected to be chronological already; out is closed on return.
func (l *Loader) Stream(ctx context.Context, r io.Reader, format Format, out chan<- *core.Event) (Stats, error) {
	defer close(out)

	send := func(evt core.Event) error {
		select {
		case out <- &evt:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if format == FormatMsgpack {
		return l.readMsgpack(r, send)
	}
	return l.readText(r, send)
}

// readText accepts JSON objects and key=value lines, one record per line
func (l *Loader) readText(r io.Reader, emit func(core.Event) error) (Stats, error) {
	var stats Stats
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		stats.Lines++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		raw, kind := parseLine(line)
		if raw == nil {
			stats.Rejected++
			metrics.EventsRejected.WithLabelValues("text").Inc()
			l.logger.Warnf("Skipped unparseable line %d", stats.Lines)
			continue
		}

		if kind == "json" {
			stats.JSON++
		} else {
			stats.KV++
		}
		metrics.EventsIngested.WithLabelValues(kind).Inc()
		if err := emit(Normalize(raw)); err != nil {
			return stats, err
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read input: %w", err)
	}
	return stats, nil
}

// parseLine tries JSON first and falls back to key=value pairs
func parseLine(line string) (map[string]interface{}, string) {
	if strings.HasPrefix(line, "{") {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			return obj, "json"
		}
	}
	if kv := ParseKVLine(line); kv != nil {
		return kv, "kv"
	}
	return nil, ""
}

// SortChronological orders events by timestamp, stable, with untimed events last
func SortChronological(events []core.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i].HasTimestamp(), events[j].HasTimestamp()
		if a != b {
			return a
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
