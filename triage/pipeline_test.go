package triage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"warden/core"
	"warden/detect"
	"warden/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var base = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// aliceEvents is eight failures from one US address then a success from DE
func aliceEvents() []core.Event {
	var events []core.Event
	for i := 0; i < 8; i++ {
		events = append(events, core.Event{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			User:      "alice@x.com",
			IP:        "1.2.3.4",
			Country:   "US",
			Outcome:   core.OutcomeFailure,
		})
	}
	events = append(events, core.Event{
		Timestamp: base.Add(20 * time.Minute),
		User:      "alice@x.com",
		IP:        "5.6.7.8",
		Country:   "DE",
		Outcome:   core.OutcomeSuccess,
	})
	return events
}

func aliceTranscript() *llm.Transcript {
	return llm.NewTranscript(
		llm.TranscriptEntry{Stage: llm.StageReasoning, Text: strings.Join([]string{
			"- alice@x.com: 8 failed logins from 1.2.3.4 then success from DE",
			"- mallory@evil.com is attacking from 6.6.6.6",
			"- Possible impossible travel for alice@x.com",
		}, "\n")},
		llm.TranscriptEntry{Stage: llm.StagePlanner, Text: strings.Join([]string{
			"[R1] Alice brute force",
			"- Lock alice@x.com",
			"- Block 9.9.9.9 at the edge",
		}, "\n")},
		llm.TranscriptEntry{Stage: llm.StageExecutor, Text: strings.Join([]string{
			"[R1]",
			"- Item: Alice timeline",
			"- Item: Failed login count",
			"  Command: rm -rf /",
			"[R2]",
			"- Item: reset password",
			"  Command: No data",
		}, "\n")},
	)
}

func newPipeline(t *testing.T, gen llm.Generator) *Pipeline {
	t.Helper()
	p, err := NewPipeline(detect.DefaultRuleConfig(), gen, Options{MaxSignals: 15}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return p
}

func TestPipeline_EndToEnd(t *testing.T) {
	tr := aliceTranscript()
	p := newPipeline(t, tr)

	report, err := p.Run(context.Background(), aliceEvents())
	require.NoError(t, err)
	assert.Equal(t, 0, tr.Remaining())

	assert.Equal(t, StatusComplete, report.Status)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 9, report.Events)

	require.Len(t, report.Findings, 2)
	assert.Equal(t, core.RuleExcessiveFailedLoginsUser, report.Findings[0].RuleName)
	assert.Equal(t, core.RuleImpossibleTravel, report.Findings[1].RuleName)
	assert.Contains(t, report.Signals, "impossible_travel | high | alice@x.com: US -> DE")

	// The mallory line names an entity absent from the logs
	assert.NotContains(t, report.Analysis, "mallory")
	assert.Equal(t, 1, report.Suppressed[StageReasoning])
	require.Len(t, report.Risks, 2)
	assert.Equal(t, "R1", report.Risks[0].ID)
	assert.Equal(t, "alice@x.com", report.Risks[0].Principal)

	assert.NotContains(t, report.Plan, "9.9.9.9")
	assert.Equal(t, 1, report.Suppressed[StagePlanner])
	assert.Equal(t, 0, report.Suppressed[StageExecutor])

	assert.NotContains(t, report.Actions, "rm -rf")
	require.Len(t, report.Blocks, 3)
	assert.Equal(t, core.CommandSynthesized, report.Blocks[0].Source)
	assert.Contains(t, report.Blocks[0].Command, `select(.actor.alternateId=="alice@x.com")`)
	assert.Equal(t, core.CommandSynthesized, report.Blocks[1].Source)
	assert.True(t, strings.HasSuffix(report.Blocks[1].Command, "| wc -l"))
	assert.Equal(t, core.CommandNoData, report.Blocks[2].Source)
	assert.Equal(t, 1, report.Repair.Replaced)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestPipeline_NoFindingsStillRuns(t *testing.T) {
	var prompts []string
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		return "", nil
	})
	p := newPipeline(t, gen)

	report, err := p.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, NoAnomalies, report.Signals)
	require.Len(t, prompts, 3)
	assert.Contains(t, prompts[0], "Signals:\n"+NoAnomalies)
	require.Len(t, report.Risks, 1)
	assert.Equal(t, core.RiskItem{ID: "R1", Text: core.NoData}, report.Risks[0])
	assert.Contains(t, prompts[1], "R1: No data")
}

func TestPipeline_GenerationFailureReturnsPartialReport(t *testing.T) {
	tr := llm.NewTranscript(
		llm.TranscriptEntry{Stage: llm.StageReasoning, Text: "- alice@x.com brute force"},
		llm.TranscriptEntry{Stage: llm.StagePlanner, Error: "upstream unavailable"},
	)
	p := newPipeline(t, tr)

	report, err := p.Run(context.Background(), aliceEvents())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrGenerationFailure))
	require.NotNil(t, report)

	assert.Equal(t, StatusPartial, report.Status)
	assert.Equal(t, StagePlanner, report.FailedAt)
	assert.Contains(t, report.Error, "upstream unavailable")
	assert.Equal(t, "- alice@x.com brute force", report.Analysis)
	assert.Len(t, report.Risks, 1)
	assert.Empty(t, report.Plan)
	assert.Empty(t, report.Blocks)
}

func TestFormatSignals_Limit(t *testing.T) {
	findings := []core.Finding{
		{RuleName: "a", Severity: core.SeverityMedium, Details: "one"},
		{RuleName: "b", Severity: core.SeverityHigh, Details: "two"},
		{RuleName: "c", Severity: core.SeverityHigh, Details: "three"},
	}
	assert.Equal(t, "a | medium | one\nb | high | two", FormatSignals(findings, 2))
	assert.Equal(t, NoAnomalies, FormatSignals(nil, 2))
}

func TestNewPipeline_RequiresGenerator(t *testing.T) {
	_, err := NewPipeline(detect.DefaultRuleConfig(), nil, Options{}, nil)
	assert.Error(t, err)
}
