package detect

import (
	"errors"
	"fmt"
	"math"
	"time"

	"warden/core"
	"warden/metrics"

	"go.uber.org/zap"
)

// RuleConfig holds the thresholds for the built-in detection rules
type RuleConfig struct {
	FailedLoginWindow      time.Duration `mapstructure:"failed_login_window" validate:"gt=0"`
	FailedPerUser          int           `mapstructure:"failed_per_user" validate:"min=1"`
	FailedPerIP            int           `mapstructure:"failed_per_ip" validate:"min=1"`
	HighMultiplier         float64       `mapstructure:"high_multiplier" validate:"gte=1"`
	ImpossibleTravelWindow time.Duration `mapstructure:"impossible_travel_window" validate:"gt=0"`
}

// DefaultRuleConfig returns the stock thresholds
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		FailedLoginWindow:      60 * time.Minute,
		FailedPerUser:          8,
		FailedPerIP:            20,
		HighMultiplier:         2.0,
		ImpossibleTravelWindow: 90 * time.Minute,
	}
}

// Validate checks that every threshold is usable
func (c RuleConfig) Validate() error {
	if c.FailedLoginWindow <= 0 {
		return fmt.Errorf("failed_login_window must be positive, got %v", c.FailedLoginWindow)
	}
	if c.ImpossibleTravelWindow <= 0 {
		return fmt.Errorf("impossible_travel_window must be positive, got %v", c.ImpossibleTravelWindow)
	}
	if c.FailedPerUser < 1 {
		return fmt.Errorf("failed_per_user must be at least 1, got %d", c.FailedPerUser)
	}
	if c.FailedPerIP < 1 {
		return fmt.Errorf("failed_per_ip must be at least 1, got %d", c.FailedPerIP)
	}
	if c.HighMultiplier < 1 {
		return fmt.Errorf("high_multiplier must be >= 1, got %v", c.HighMultiplier)
	}
	return nil
}

// highThreshold is the count at which a burst escalates to high severity
func highThreshold(base int, multiplier float64) int {
	return int(math.Ceil(float64(base) * multiplier))
}

// thresholdRule tracks failure bursts for one key space (user or ip)
type thresholdRule struct {
	name      string
	label     string
	threshold int
	high      int
	tracker   *WindowTracker
	// level remembers the highest severity already emitted for the current crossing
	level map[string]core.Severity
}

func newThresholdRule(name, label string, threshold int, multiplier float64, window time.Duration) *thresholdRule {
	return &thresholdRule{
		name:      name,
		label:     label,
		threshold: threshold,
		high:      highThreshold(threshold, multiplier),
		tracker:   NewWindowTracker(window),
		level:     make(map[string]core.Severity),
	}
}

// observe records a failure and returns a finding only when a new level is crossed
func (r *thresholdRule) observe(key string, ts time.Time) (*core.Finding, error) {
	count, err := r.tracker.Record(key, ts)
	if err != nil {
		return nil, err
	}

	if count < r.threshold {
		// Back below the base threshold re-arms the rule for this key
		delete(r.level, key)
		return nil, nil
	}

	sev := core.SeverityMedium
	if count >= r.high {
		sev = core.SeverityHigh
	}
	if prev, ok := r.level[key]; ok && prev.Rank() >= sev.Rank() {
		return nil, nil
	}
	r.level[key] = sev

	return &core.Finding{
		RuleName:  r.name,
		Severity:  sev,
		Details:   fmt.Sprintf("%s %s failures=%d", r.label, key, count),
		Key:       key,
		Timestamp: ts,
	}, nil
}

// Engine folds an ordered event stream into findings.
// Each run should use its own Engine; state is never shared across runs.
type Engine struct {
	cfg     RuleConfig
	perUser *thresholdRule
	perIP   *thresholdRule
	travel  *WindowTracker
	skipped map[string]int
	logger  *zap.SugaredLogger
}

// NewEngine creates an engine with the given thresholds
func NewEngine(cfg RuleConfig, logger *zap.SugaredLogger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		cfg:     cfg,
		perUser: newThresholdRule(core.RuleExcessiveFailedLoginsUser, "user", cfg.FailedPerUser, cfg.HighMultiplier, cfg.FailedLoginWindow),
		perIP:   newThresholdRule(core.RuleExcessiveFailedLoginsIP, "ip", cfg.FailedPerIP, cfg.HighMultiplier, cfg.FailedLoginWindow),
		travel:  NewWindowTracker(cfg.ImpossibleTravelWindow),
		skipped: map[string]int{
			core.RuleExcessiveFailedLoginsUser: 0,
			core.RuleExcessiveFailedLoginsIP:   0,
			core.RuleImpossibleTravel:          0,
		},
		logger: logger,
	}, nil
}

// Config returns the engine thresholds
func (e *Engine) Config() RuleConfig {
	return e.cfg
}

// Evaluate runs every rule against one event and returns the findings it raised.
// Malformed events are skipped per rule and never cause an error.
func (e *Engine) Evaluate(evt *core.Event) []core.Finding {
	if evt == nil {
		e.skipAll("event")
		return nil
	}
	if !evt.HasTimestamp() {
		e.skipAll("timestamp")
		return nil
	}
	if evt.Outcome == "" {
		e.skipAll("outcome")
		return nil
	}

	var out []core.Finding

	if evt.IsFailure() {
		if evt.User == "" {
			e.skipMalformed(core.RuleExcessiveFailedLoginsUser, "user")
		} else {
			out = e.appendThreshold(out, e.perUser, evt.User, evt.Timestamp)
		}
		if evt.IP == "" {
			e.skipMalformed(core.RuleExcessiveFailedLoginsIP, "ip")
		} else {
			out = e.appendThreshold(out, e.perIP, evt.IP, evt.Timestamp)
		}
	}

	switch {
	case evt.User == "":
		e.skipMalformed(core.RuleImpossibleTravel, "user")
	case evt.Country == "":
		e.skipMalformed(core.RuleImpossibleTravel, "country")
	default:
		if f := e.evaluateTravel(evt); f != nil {
			out = append(out, *f)
		}
	}

	for _, f := range out {
		metrics.FindingsEmitted.WithLabelValues(f.RuleName, string(f.Severity)).Inc()
	}
	return out
}

// EvaluateAll folds the whole sequence in order
func (e *Engine) EvaluateAll(events []core.Event) []core.Finding {
	var out []core.Finding
	for i := range events {
		out = append(out, e.Evaluate(&events[i])...)
	}
	return out
}

// Skipped returns how many events the named rule could not evaluate
func (e *Engine) Skipped(rule string) int {
	return e.skipped[rule]
}

// SkipCounts returns a copy of the per-rule skip counters
func (e *Engine) SkipCounts() map[string]int {
	out := make(map[string]int, len(e.skipped))
	for k, v := range e.skipped {
		out[k] = v
	}
	return out
}

// Stats returns the tracker sizes for diagnostics
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		UserKeys:      e.perUser.tracker.Keys(),
		IPKeys:        e.perIP.tracker.Keys(),
		TravelKeys:    e.travel.Keys(),
		WindowEntries: e.perUser.tracker.TotalEntries() + e.perIP.tracker.TotalEntries() + e.travel.TotalEntries(),
	}
}

// EngineStats describes the memory held by an engine
type EngineStats struct {
	UserKeys      int `json:"user_keys"`
	IPKeys        int `json:"ip_keys"`
	TravelKeys    int `json:"travel_keys"`
	WindowEntries int `json:"window_entries"`
}

func (e *Engine) appendThreshold(out []core.Finding, rule *thresholdRule, key string, ts time.Time) []core.Finding {
	f, err := rule.observe(key, ts)
	if err != nil {
		e.skipErr(rule.name, err)
		return out
	}
	if f != nil {
		out = append(out, *f)
	}
	return out
}

func (e *Engine) evaluateTravel(evt *core.Event) *core.Finding {
	n, err := e.travel.RecordWithAttribute(evt.User, evt.Timestamp, evt.Country)
	if err != nil {
		e.skipErr(core.RuleImpossibleTravel, err)
		return nil
	}

	// Fires on every change from the user's previous in-window country
	prev, ok := e.travel.Previous(evt.User)
	if n < 2 || !ok || prev == evt.Country {
		return nil
	}

	// Report the earliest windowed country that differs from the current one
	from := prev
	for _, c := range e.travel.Attributes(evt.User) {
		if c != evt.Country {
			from = c
			break
		}
	}
	return &core.Finding{
		RuleName:  core.RuleImpossibleTravel,
		Severity:  core.SeverityHigh,
		Details:   fmt.Sprintf("%s: %s -> %s", evt.User, from, evt.Country),
		Key:       evt.User,
		Timestamp: evt.Timestamp,
	}
}

// skipAll counts the event against every rule; field names what was missing
func (e *Engine) skipAll(field string) {
	for rule := range e.skipped {
		e.skipMalformed(rule, field)
	}
}

func (e *Engine) skipMalformed(rule, field string) {
	e.skipErr(rule, fmt.Errorf("%w: missing %s", core.ErrMalformedEvent, field))
}

func (e *Engine) skip(rule, reason string) {
	e.skipped[rule]++
	metrics.EventsSkipped.WithLabelValues(rule).Inc()
	e.logger.Debugw("Event skipped by rule", "rule", rule, "reason", reason)
}

func (e *Engine) skipErr(rule string, err error) {
	reason := err.Error()
	if errors.Is(err, core.ErrOutOfOrder) {
		reason = "out of order"
	}
	e.skip(rule, reason)
}
