package ingest

import (
	"errors"
	"fmt"
	"io"

	"warden/core"
	"warden/metrics"

	"github.com/vmihailenco/msgpack/v5"
)

// readMsgpack decodes a stream of MessagePack values. Each value is either a
// record map or a forward-protocol entry [tag, time, record]; the entry time
// fills in for a record without its own timestamp.
func (l *Loader) readMsgpack(r io.Reader, emit func(core.Event) error) (Stats, error) {
	var stats Stats
	dec := msgpack.NewDecoder(r)

	for {
		v, err := dec.DecodeInterface()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("failed to decode msgpack record %d: %w", stats.Lines+1, err)
		}
		stats.Lines++

		raw, ok := recordFromMsgpack(v)
		if !ok {
			stats.Rejected++
			metrics.EventsRejected.WithLabelValues("msgpack").Inc()
			l.logger.Warnf("Skipped msgpack value %d of type %T", stats.Lines, v)
			continue
		}

		stats.Msgpack++
		metrics.EventsIngested.WithLabelValues("msgpack").Inc()
		if err := emit(Normalize(raw)); err != nil {
			return stats, err
		}
	}
}

func recordFromMsgpack(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	case []interface{}:
		// Forward protocol message: [tag, time, record]
		if len(t) < 3 {
			return nil, false
		}
		rec, ok := recordFromMsgpack(t[2])
		if !ok {
			return nil, false
		}
		if _, has := rec["published"]; !has {
			if ts, ok := ParseTimestamp(t[1]); ok {
				rec["published"] = ts
			}
		}
		return rec, true
	default:
		return nil, false
	}
}

// EncodeMsgpack writes records as a MessagePack stream
func EncodeMsgpack(w io.Writer, records []map[string]interface{}) error {
	enc := msgpack.NewEncoder(w)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode record %d: %w", i, err)
		}
	}
	return nil
}
