package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"warden/core"
	"warden/metrics"
	"warden/util/goroutine"

	"go.uber.org/zap"
)

// FindingSink receives findings as the detector produces them
type FindingSink interface {
	Publish(ctx context.Context, findings []core.Finding) error
}

// Detector runs one Engine over a channel of events.
// A single goroutine owns the engine so the per-key window invariants hold
// without locking.
type Detector struct {
	engine    *Engine
	inputCh   <-chan *core.Event
	findingCh chan<- core.Finding
	sink      FindingSink
	timeout   time.Duration
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
	stopCh    chan struct{}
	stopOnce  sync.Once
	processed int
}

// NewDetector creates a detector reading from inputCh and writing to findingCh.
// sink may be nil.
func NewDetector(engine *Engine, inputCh <-chan *core.Event, findingCh chan<- core.Finding, sink FindingSink, logger *zap.SugaredLogger) (*Detector, error) {
	if engine == nil {
		return nil, fmt.Errorf("detector requires an engine")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Detector{
		engine:    engine,
		inputCh:   inputCh,
		findingCh: findingCh,
		sink:      sink,
		timeout:   5 * time.Second,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start starts the detector goroutine
func (d *Detector) Start() {
	d.wg.Add(1)
	go d.run()
}

// Wait blocks until the input channel is drained or Stop is called
func (d *Detector) Wait() {
	d.wg.Wait()
}

// Stop stops the detector and waits for the goroutine to exit
func (d *Detector) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

// Processed returns the number of events the detector consumed.
// Only meaningful after Wait or Stop returned.
func (d *Detector) Processed() int {
	return d.processed
}

// Engine returns the engine driven by this detector
func (d *Detector) Engine() *Engine {
	return d.engine
}

func (d *Detector) run() {
	defer d.wg.Done()
	defer goroutine.Recover("detector", d.logger)
	if d.findingCh != nil {
		defer close(d.findingCh)
	}

	d.logger.Debug("Detector started - waiting for events on input channel")

	for {
		select {
		case <-d.stopCh:
			d.logger.Infow("Detector stopped", "events", d.processed)
			return
		case event, ok := <-d.inputCh:
			if !ok {
				d.logger.Debugw("Detector input closed", "events", d.processed)
				return
			}
			d.processed++
			d.handle(event)
		}
	}
}

func (d *Detector) handle(event *core.Event) {
	findings := d.engine.Evaluate(event)
	if len(findings) == 0 {
		return
	}

	for _, f := range findings {
		d.logger.Infow("Finding", "rule", f.RuleName, "severity", f.Severity, "details", f.Details)
		if d.findingCh == nil {
			continue
		}
		select {
		case d.findingCh <- f:
		case <-d.stopCh:
			return
		}
	}

	if d.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.sink.Publish(ctx, findings); err != nil {
			metrics.PublishFailures.WithLabelValues("findings").Inc()
			d.logger.Warnf("Failed to publish %d findings: %v", len(findings), err)
		}
	}
}
