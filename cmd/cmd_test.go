package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"warden/core"
	"warden/storage"
	"warden/triage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const transcriptYAML = `responses:
  - stage: reasoning
    text: |-
      - alice@x.com brute force then login from DE
      - mallory@evil.com lateral movement
  - stage: planner
    text: |-
      [R1] Alice
      - Lock alice@x.com
  - stage: executor
    text: |-
      [R1]
      - Item: Alice timeline
`

// execute runs the root command with args and returns stdout
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--no-color", "--quiet"}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// writeLog writes eight alice failures from the US, a success from DE and one bad line
func writeLog(t *testing.T, dir string) string {
	t.Helper()
	var lines []string
	for i := 0; i < 8; i++ {
		lines = append(lines, fmt.Sprintf(
			`{"published":"2025-03-14T09:%02d:00Z","actor":{"alternateId":"alice@x.com"},"client":{"ipAddress":"1.2.3.4","geographicalContext":{"country":"US"}},"outcome":{"result":"FAILURE"}}`, i))
	}
	lines = append(lines,
		`published=2025-03-14T09:20:00Z actor.alternateId=alice@x.com client.ipAddress=5.6.7.8 client.geographicalContext.country=DE outcome.result=SUCCESS`,
		"this line is garbage")
	return writeFile(t, dir, "okta-logs.txt", strings.Join(lines, "\n")+"\n")
}

// writeConfig writes a config with fast generation pacing and optional run history
func writeConfig(t *testing.T, dir string, withStorage bool) string {
	t.Helper()
	cfg := "log_level: error\ngeneration:\n  rate_per_second: 1000\n  burst: 10\n"
	if withStorage {
		cfg += fmt.Sprintf("storage:\n  enabled: true\n  sqlite_path: %s\n", filepath.Join(dir, "runs.db"))
	}
	return writeFile(t, dir, "config.yaml", cfg)
}

func TestRoot_JSONAndYAMLAreExclusive(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "--json", "--yaml", "--config", writeConfig(t, dir, false), "rules", writeLog(t, dir))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestRulesCommand_JSON(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "--json", "--config", writeConfig(t, dir, false), "rules", writeLog(t, dir))
	require.NoError(t, err)

	var result RulesResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 10, result.Input.Lines)
	assert.Equal(t, 8, result.Input.JSON)
	assert.Equal(t, 1, result.Input.KV)
	assert.Equal(t, 1, result.Input.Rejected)

	require.Len(t, result.Findings, 2)
	assert.Equal(t, core.RuleExcessiveFailedLoginsUser, result.Findings[0].RuleName)
	assert.Equal(t, core.SeverityMedium, result.Findings[0].Severity)
	assert.Equal(t, core.RuleImpossibleTravel, result.Findings[1].RuleName)
	assert.Contains(t, result.SkipCounts, core.RuleImpossibleTravel)
}

func TestRulesCommand_Text(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "--config", writeConfig(t, dir, false), "rules", writeLog(t, dir))
	require.NoError(t, err)

	assert.Contains(t, out, "Findings (2)")
	assert.Contains(t, out, core.RuleExcessiveFailedLoginsUser)
	assert.Contains(t, out, "alice@x.com: US -> DE")
	assert.Contains(t, out, "Skipped Events")
}

func TestRulesCommand_MissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "--config", writeConfig(t, dir, false), "rules", filepath.Join(dir, "nope.txt"))
	assert.Error(t, err)
}

func TestTriageCommand_RequiresTranscript(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "--config", writeConfig(t, dir, false), "triage", writeLog(t, dir))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transcript")
}

func TestTriageCommand_YAMLThenRunHistory(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, true)
	logPath := writeLog(t, dir)
	transcript := writeFile(t, dir, "transcript.yaml", transcriptYAML)

	out, err := execute(t, "--yaml", "--config", cfg, "triage", "--transcript", transcript, logPath)
	require.NoError(t, err)

	var report triage.Report
	require.NoError(t, yaml.Unmarshal([]byte(out), &report))
	assert.Equal(t, triage.StatusComplete, report.Status)
	assert.Equal(t, logPath, report.Source)
	assert.Equal(t, 9, report.Events)
	assert.Len(t, report.Findings, 2)
	assert.NotContains(t, report.Analysis, "mallory@evil.com")
	assert.Equal(t, 1, report.Suppressed[triage.StageReasoning])
	require.Len(t, report.Risks, 1)
	assert.Equal(t, "R1", report.Risks[0].ID)
	assert.Equal(t, "alice@x.com", report.Risks[0].Principal)
	require.Len(t, report.Blocks, 1)
	assert.Equal(t, core.CommandSynthesized, report.Blocks[0].Source)
	assert.Contains(t, report.Blocks[0].Command, "alice@x.com")

	out, err = execute(t, "--json", "--config", cfg, "runs")
	require.NoError(t, err)
	var runs []storage.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, report.RunID, runs[0].ID)
	assert.Equal(t, 2, runs[0].Findings)

	out, err = execute(t, "--json", "--config", cfg, "runs", report.RunID)
	require.NoError(t, err)
	var stored triage.Report
	require.NoError(t, json.Unmarshal([]byte(out), &stored))
	assert.Equal(t, report.Blocks, stored.Blocks)

	out, err = execute(t, "--json", "--config", cfg, "runs", "--entity", "alice@x.com")
	require.NoError(t, err)
	var findings []storage.StoredFinding
	require.NoError(t, json.Unmarshal([]byte(out), &findings))
	assert.Len(t, findings, 2)

	_, err = execute(t, "--config", cfg, "runs", "--delete", report.RunID)
	require.NoError(t, err)
	_, err = execute(t, "--config", cfg, "runs", report.RunID)
	assert.ErrorIs(t, err, storage.ErrRunNotFound)
}

func TestTriageCommand_TextReport(t *testing.T) {
	dir := t.TempDir()
	transcript := writeFile(t, dir, "transcript.yaml", transcriptYAML)

	out, err := execute(t, "--config", writeConfig(t, dir, false), "triage", "--transcript", transcript, writeLog(t, dir))
	require.NoError(t, err)

	assert.Contains(t, out, "Triage Report")
	assert.Contains(t, out, "[R1] alice@x.com brute force then login from DE")
	assert.Contains(t, out, "[synthesized] R1 Alice timeline")
	assert.NotContains(t, out, "mallory")
}

func TestTriageCommand_PartialRunExitsNonZero(t *testing.T) {
	dir := t.TempDir()
	transcript := writeFile(t, dir, "transcript.yaml", `responses:
  - stage: reasoning
    text: "- alice@x.com brute force"
`)

	out, err := execute(t, "--json", "--config", writeConfig(t, dir, false), "triage", "--transcript", transcript, writeLog(t, dir))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrGenerationFailure)

	var report triage.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, triage.StatusPartial, report.Status)
	assert.Equal(t, triage.StagePlanner, report.FailedAt)
	assert.Len(t, report.Risks, 1)
}

func TestRepairCommand_JSON(t *testing.T) {
	dir := t.TempDir()
	actions := writeFile(t, dir, "actions.txt", "[R1]\n- Item: Alice timeline\n  Command: rm -rf /\n- Item: Check the weather\n")
	risks := writeFile(t, dir, "risks.yaml", "- id: R1\n  text: alice@x.com brute force\n  principal: alice@x.com\n")

	out, err := execute(t, "--json", "repair", "--risks", risks, actions)
	require.NoError(t, err)

	var result RepairOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.Stats.Items)
	assert.Equal(t, 1, result.Stats.Replaced)
	require.Len(t, result.Blocks, 2)
	assert.Equal(t, core.CommandSynthesized, result.Blocks[0].Source)
	assert.Contains(t, result.Blocks[0].Command, "alice@x.com")
	assert.Equal(t, core.CommandNoData, result.Blocks[1].Source)
	assert.NotContains(t, result.Text, "rm -rf")
}

func TestRepairCommand_TextSuppressesAgainstEvents(t *testing.T) {
	dir := t.TempDir()
	logPath := writeLog(t, dir)
	actions := writeFile(t, dir, "actions.txt", "- Item: Alice timeline\n  Command: No data\n- Item: Review mallory@evil.com\n")

	out, err := execute(t, "repair", "--events", logPath, actions)
	require.NoError(t, err)

	assert.Contains(t, out, "- Item: Alice timeline\n  Command: No data")
	assert.NotContains(t, out, "mallory")
}

func TestRepairCommand_BadRisks(t *testing.T) {
	dir := t.TempDir()
	actions := writeFile(t, dir, "actions.txt", "- Item: x\n")
	risks := writeFile(t, dir, "risks.yaml", "- text: no id\n")

	_, err := execute(t, "repair", "--risks", risks, actions)
	assert.Error(t, err)
}

func TestRunsCommand_StorageDisabled(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "--config", writeConfig(t, dir, false), "runs")
	assert.ErrorIs(t, err, errStorageDisabled)
}

func TestRunsCommand_DeleteNeedsID(t *testing.T) {
	_, err := execute(t, "runs", "--delete")
	assert.Error(t, err)
}
