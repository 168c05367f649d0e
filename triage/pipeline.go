// Package triage runs the hybrid pipeline: deterministic detection first,
// then generated analysis, plan and commands, each grounded against the
// run's own events before the next stage sees it.
package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"warden/core"
	"warden/detect"
	"warden/ground"
	"warden/llm"
	"warden/metrics"
	"warden/repair"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NoAnomalies is the signals text when the engine raised nothing
const NoAnomalies = "No anomalies."

// Stage names a pipeline step
type Stage string

const (
	StageDetect    Stage = "detect"
	StageReasoning Stage = "reasoning"
	StagePlanner   Stage = "planner"
	StageExecutor  Stage = "executor"
	StageComplete  Stage = "complete"
)

// Status of a run
const (
	StatusComplete = "complete"
	StatusPartial  = "partial"
)

// Options tunes the pipeline
type Options struct {
	DataFile   string
	MaxSignals int
}

// Report is everything one run produced. A partial report carries every
// stage completed before the failure.
type Report struct {
	RunID      string              `json:"run_id" yaml:"run_id"`
	Source     string              `json:"source,omitempty" yaml:"source,omitempty"`
	StartedAt  time.Time           `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time           `json:"finished_at" yaml:"finished_at"`
	Status     string              `json:"status" yaml:"status"`
	FailedAt   Stage               `json:"failed_at,omitempty" yaml:"failed_at,omitempty"`
	Error      string              `json:"error,omitempty" yaml:"error,omitempty"`
	Events     int                 `json:"events" yaml:"events"`
	Findings   []core.Finding      `json:"findings" yaml:"findings"`
	SkipCounts map[string]int      `json:"skip_counts" yaml:"skip_counts"`
	Signals    string              `json:"signals" yaml:"signals"`
	Analysis   string              `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	Risks      []core.RiskItem     `json:"risks,omitempty" yaml:"risks,omitempty"`
	Plan       string              `json:"plan,omitempty" yaml:"plan,omitempty"`
	Actions    string              `json:"actions,omitempty" yaml:"actions,omitempty"`
	Blocks     []core.CommandBlock `json:"blocks,omitempty" yaml:"blocks,omitempty"`
	Suppressed map[Stage]int       `json:"suppressed" yaml:"suppressed"`
	Repair     repair.Stats        `json:"repair" yaml:"repair"`
}

// Pipeline wires detection, generation, grounding and repair for one run at a time.
// It holds no per-run state and may be reused.
type Pipeline struct {
	rules  detect.RuleConfig
	gen    llm.Generator
	opts   Options
	repair *repair.Engine
	logger *zap.SugaredLogger
}

// NewPipeline creates a pipeline
func NewPipeline(rules detect.RuleConfig, gen llm.Generator, opts Options, logger *zap.SugaredLogger) (*Pipeline, error) {
	if gen == nil {
		return nil, errors.New("pipeline requires a generator")
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule config: %w", err)
	}
	if opts.DataFile == "" {
		opts.DataFile = repair.DefaultDataFile
	}
	if opts.MaxSignals <= 0 {
		opts.MaxSignals = 15
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Pipeline{
		rules:  rules,
		gen:    gen,
		opts:   opts,
		repair: repair.NewEngine(opts.DataFile, logger),
		logger: logger,
	}, nil
}

// FormatSignals renders the first max findings one per line
func FormatSignals(findings []core.Finding, max int) string {
	if len(findings) == 0 {
		return NoAnomalies
	}
	if max > 0 && len(findings) > max {
		findings = findings[:max]
	}
	lines := make([]string, len(findings))
	for i, f := range findings {
		lines[i] = f.Signal()
	}
	return strings.Join(lines, "\n")
}

// Run executes every stage over events, which must already be in chronological order.
// On a generation failure it returns the partial report and an error wrapping
// core.ErrGenerationFailure.
func (p *Pipeline) Run(ctx context.Context, events []core.Event) (*Report, error) {
	report := &Report{
		RunID:      uuid.New().String(),
		StartedAt:  time.Now().UTC(),
		Status:     StatusPartial,
		Events:     len(events),
		Suppressed: make(map[Stage]int),
	}
	log := p.logger.With("run_id", report.RunID)
	defer func() { report.FinishedAt = time.Now().UTC() }()

	engine, err := detect.NewEngine(p.rules, log)
	if err != nil {
		return p.fail(report, StageDetect, err)
	}
	report.Findings = engine.EvaluateAll(events)
	report.SkipCounts = engine.SkipCounts()
	report.Signals = FormatSignals(report.Findings, p.opts.MaxSignals)
	log.Infow("Detection complete", "events", len(events), "findings", len(report.Findings))

	allow := ground.NewAllowlist(events)

	analysis, err := p.generate(ctx, StageReasoning, llm.ReasoningPrompt(report.Signals), allow, report)
	if err != nil {
		return p.fail(report, StageReasoning, err)
	}
	report.Analysis = analysis

	risks := ground.NewRiskRegister()
	risks.Tag(analysis)
	risks.EnsureNonEmpty()
	report.Risks = risks.Items()
	riskList := risks.String()

	plan, err := p.generate(ctx, StagePlanner, llm.PlannerPrompt(riskList), allow, report)
	if err != nil {
		return p.fail(report, StagePlanner, err)
	}
	report.Plan = plan

	actions, err := p.generate(ctx, StageExecutor, llm.ExecutorPrompt(riskList, plan, p.opts.DataFile), allow, report)
	if err != nil {
		return p.fail(report, StageExecutor, err)
	}

	repaired := p.repair.Repair(actions, risks)
	report.Actions = repaired.Text
	report.Blocks = repaired.Blocks
	report.Repair = repaired.Stats
	report.Status = StatusComplete

	log.Infow("Triage complete",
		"risks", len(report.Risks),
		"commands", len(report.Blocks),
		"synthesized", repaired.Stats.Synthesized,
		"no_data", repaired.Stats.NoData)
	return report, nil
}

// generate calls the generator and grounds its output
func (p *Pipeline) generate(ctx context.Context, stage Stage, prompt string, allow *ground.Allowlist, report *Report) (string, error) {
	raw, err := p.gen.Generate(ctx, prompt)
	if err != nil {
		if !errors.Is(err, core.ErrGenerationFailure) {
			err = fmt.Errorf("%w: %w", core.ErrGenerationFailure, err)
		}
		return "", err
	}

	res := ground.Suppress(raw, allow)
	report.Suppressed[stage] = res.Dropped
	if res.Dropped > 0 {
		metrics.LinesSuppressed.WithLabelValues(string(stage)).Add(float64(res.Dropped))
		p.logger.Infow("Suppressed ungrounded lines", "run_id", report.RunID, "stage", stage, "dropped", res.Dropped, "unknown", res.Unknown)
	}
	return res.Text, nil
}

func (p *Pipeline) fail(report *Report, stage Stage, err error) (*Report, error) {
	report.FailedAt = stage
	report.Error = err.Error()
	p.logger.Errorw("Triage stage failed", "run_id", report.RunID, "stage", stage, "error", err)
	return report, fmt.Errorf("%s stage: %w", stage, err)
}
