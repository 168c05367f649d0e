package detect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"warden/core"
	utiltest "warden/util/testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSink struct {
	mu       sync.Mutex
	findings []core.Finding
	calls    int
	err      error
}

func (s *fakeSink) Publish(ctx context.Context, findings []core.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.findings = append(s.findings, findings...)
	return nil
}

func failures(user string, n int) []*core.Event {
	out := make([]*core.Event, n)
	for i := range out {
		out[i] = &core.Event{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			User:      user,
			IP:        "1.2.3.4",
			Country:   "US",
			Outcome:   core.OutcomeFailure,
		}
	}
	return out
}

func newTestDetector(t *testing.T, in <-chan *core.Event, out chan<- core.Finding, sink FindingSink) *Detector {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	engine, err := NewEngine(DefaultRuleConfig(), logger)
	require.NoError(t, err)
	d, err := NewDetector(engine, in, out, sink, logger)
	require.NoError(t, err)
	return d
}

func TestDetector_DrainsInputAndClosesOutput(t *testing.T) {
	defer utiltest.CheckGoroutineCleanup(t)()

	in := make(chan *core.Event, 16)
	out := make(chan core.Finding, 16)
	sink := &fakeSink{}
	d := newTestDetector(t, in, out, sink)
	d.Start()

	for _, e := range failures("alice@x.com", 9) {
		in <- e
	}
	close(in)
	d.Wait()

	var got []core.Finding
	for f := range out {
		got = append(got, f)
	}
	require.Len(t, got, 1)
	assert.Equal(t, core.RuleExcessiveFailedLoginsUser, got[0].RuleName)
	assert.Equal(t, 9, d.Processed())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, got, sink.findings)
}

func TestDetector_SinkErrorDoesNotStop(t *testing.T) {
	in := make(chan *core.Event, 16)
	sink := &fakeSink{err: errors.New("redis down")}
	d := newTestDetector(t, in, nil, sink)
	d.Start()

	for _, e := range failures("alice@x.com", 10) {
		in <- e
	}
	close(in)
	d.Wait()

	assert.Equal(t, 10, d.Processed())
	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, 1, d.Engine().Stats().UserKeys)
}

func TestDetector_StopIsIdempotent(t *testing.T) {
	in := make(chan *core.Event)
	d := newTestDetector(t, in, nil, nil)
	d.Start()

	err := utiltest.WaitFor(func() {
		d.Stop()
		d.Stop()
	}, 2*time.Second)
	require.NoError(t, err, "Stop did not return")
}

func TestDetector_StopUnblocksFullOutput(t *testing.T) {
	in := make(chan *core.Event, 16)
	out := make(chan core.Finding)
	d := newTestDetector(t, in, out, nil)
	d.Start()

	for _, e := range failures("alice@x.com", 8) {
		in <- e
	}

	// Nobody reads out, so the detector is parked on the send
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, utiltest.WaitFor(d.Stop, 2*time.Second), "Stop blocked on a full output channel")
}

func TestNewDetector_RequiresEngine(t *testing.T) {
	_, err := NewDetector(nil, nil, nil, nil, nil)
	assert.Error(t, err)
}
