package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"warden/config"
	"warden/core"
	"warden/ingest"
	"warden/llm"
	"warden/triage"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// writeOktaLog writes eight alice failures from the US then a success from DE
func writeOktaLog(t *testing.T) string {
	t.Helper()
	var lines []string
	for i := 0; i < 8; i++ {
		lines = append(lines, fmt.Sprintf(
			`{"published":"2025-03-14T09:%02d:00Z","actor":{"alternateId":"alice@x.com"},"client":{"ipAddress":"1.2.3.4","geographicalContext":{"country":"US"}},"outcome":{"result":"FAILURE"}}`, i))
	}
	lines = append(lines, `published=2025-03-14T09:20:00Z actor.alternateId=alice@x.com client.ipAddress=5.6.7.8 client.geographicalContext.country=DE outcome.result=SUCCESS`)
	lines = append(lines, "this line is garbage")

	path := filepath.Join(t.TempDir(), "okta-logs.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func transcript() *llm.Transcript {
	return llm.NewTranscript(
		llm.TranscriptEntry{Stage: llm.StageReasoning, Text: "- alice@x.com brute force then login from DE\n- mallory@evil.com lateral movement"},
		llm.TranscriptEntry{Stage: llm.StagePlanner, Text: "[R1] Alice\n- Lock alice@x.com"},
		llm.TranscriptEntry{Stage: llm.StageExecutor, Text: "[R1]\n- Item: Alice timeline"},
	)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Generation.RatePerSecond = 1000
	cfg.Generation.Burst = 10
	return cfg
}

func TestNewApp_DefaultsHaveNoBackends(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(t), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer app.Shutdown()

	assert.Nil(t, app.Store)
	assert.Nil(t, app.Sink())
	assert.Nil(t, app.Runs())
}

func TestNewApp_RedisUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = addr

	_, err = NewApp(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	assert.Error(t, err)
}

func TestApp_TriagePersistsAndPublishes(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := testConfig(t)
	cfg.Storage.Enabled = true
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "warden.db")
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	app, err := NewApp(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer app.Shutdown()

	path := writeOktaLog(t)
	report, err := app.Triage(context.Background(), path, ingest.FormatAuto, transcript())
	require.NoError(t, err)

	assert.Equal(t, triage.StatusComplete, report.Status)
	assert.Equal(t, path, report.Source)
	assert.Equal(t, 9, report.Events)
	require.Len(t, report.Findings, 2)
	assert.NotContains(t, report.Analysis, "mallory")
	require.Len(t, report.Blocks, 1)
	assert.Equal(t, core.CommandSynthesized, report.Blocks[0].Source)

	stored, err := app.Store.GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, report.Findings, stored.Findings)

	list, err := mr.List(cfg.Redis.Key)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestApp_TriageStoresPartialRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Enabled = true
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "warden.db")

	app, err := NewApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer app.Shutdown()

	failing := llm.NewTranscript(llm.TranscriptEntry{Stage: llm.StageReasoning, Error: "model offline"})
	report, err := app.Triage(context.Background(), writeOktaLog(t), ingest.FormatAuto, failing)
	require.Error(t, err)
	require.NotNil(t, report)

	runs, err := app.Store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, triage.StatusPartial, runs[0].Status)
	assert.Equal(t, string(triage.StageReasoning), runs[0].FailedAt)
}

func TestApp_TriageMissingFile(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer app.Shutdown()

	_, err = app.Triage(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), ingest.FormatAuto, transcript())
	assert.Error(t, err)
}

func TestApp_DetectStreams(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	app, err := NewApp(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer app.Shutdown()

	findings, engine, stats, err := app.Detect(context.Background(), writeOktaLog(t), ingest.FormatAuto)
	require.NoError(t, err)

	require.Len(t, findings, 2)
	assert.Equal(t, core.RuleExcessiveFailedLoginsUser, findings[0].RuleName)
	assert.Equal(t, "alice@x.com: US -> DE", findings[1].Details)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 1, engine.Stats().UserKeys)

	list, err := mr.List(cfg.Redis.Key)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestApp_ServeStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Port = 0

	app, err := NewApp(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer app.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestInitLogger(t *testing.T) {
	logger, sugar, err := InitLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.NotNil(t, sugar)

	_, _, err = InitLogger("loud")
	assert.Error(t, err)
}
