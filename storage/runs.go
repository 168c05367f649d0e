package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"warden/core"
	"warden/metrics"
	"warden/triage"
)

// timeLayout is fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RunSummary is the list view of a stored run
type RunSummary struct {
	ID         string    `json:"id" yaml:"id"`
	Source     string    `json:"source,omitempty" yaml:"source,omitempty"`
	Status     string    `json:"status" yaml:"status"`
	FailedAt   string    `json:"failed_at,omitempty" yaml:"failed_at,omitempty"`
	Events     int       `json:"events" yaml:"events"`
	Findings   int       `json:"findings" yaml:"findings"`
	Risks      int       `json:"risks" yaml:"risks"`
	Commands   int       `json:"commands" yaml:"commands"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
}

// StoredFinding is a finding with the run that produced it
type StoredFinding struct {
	RunID string `json:"run_id" yaml:"run_id"`
	core.Finding `yaml:",inline"`
}

// RunStore persists triage reports
type RunStore interface {
	SaveRun(ctx context.Context, report *triage.Report) error
	GetRun(ctx context.Context, id string) (*triage.Report, error)
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	FindingsForEntity(ctx context.Context, entity string, limit int) ([]StoredFinding, error)
}

// SaveRun stores the report and its findings in one transaction.
// Saving the same run ID again replaces it.
func (s *SQLite) SaveRun(ctx context.Context, report *triage.Report) error {
	if report == nil || report.RunID == "" {
		return errors.New("report has no run id")
	}

	blob, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		metrics.PublishFailures.WithLabelValues("sqlite").Inc()
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, report.RunID); err != nil {
		return fmt.Errorf("failed to clear run %s: %w", report.RunID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, source, status, failed_at, error, events, findings, risks, commands, started_at, finished_at, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, report.Source, report.Status, string(report.FailedAt), report.Error,
		report.Events, len(report.Findings), len(report.Risks), len(report.Blocks),
		report.StartedAt.UTC().Format(timeLayout), report.FinishedAt.UTC().Format(timeLayout), string(blob))
	if err != nil {
		metrics.PublishFailures.WithLabelValues("sqlite").Inc()
		return fmt.Errorf("failed to insert run %s: %w", report.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO findings (run_id, seq, rule_name, severity, entity, details, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare finding insert: %w", err)
	}
	defer stmt.Close()

	for i, f := range report.Findings {
		if _, err := stmt.ExecContext(ctx, report.RunID, i, f.RuleName, string(f.Severity), f.Key, f.Details,
			f.Timestamp.UTC().Format(timeLayout)); err != nil {
			metrics.PublishFailures.WithLabelValues("sqlite").Inc()
			return fmt.Errorf("failed to insert finding %d of run %s: %w", i, report.RunID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.PublishFailures.WithLabelValues("sqlite").Inc()
		return fmt.Errorf("failed to commit run %s: %w", report.RunID, err)
	}
	s.Logger.Debugw("Run saved", "run_id", report.RunID, "findings", len(report.Findings))
	return nil
}

// GetRun loads the full report for id
func (s *SQLite) GetRun(ctx context.Context, id string) (*triage.Report, error) {
	var blob string
	err := s.DB.QueryRowContext(ctx, `SELECT report FROM runs WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	var report triage.Report
	if err := json.Unmarshal([]byte(blob), &report); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	return &report, nil
}

// ListRuns returns the newest runs first. A non-positive limit returns every run.
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, source, status, failed_at, events, findings, risks, commands, started_at, finished_at
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	out := make([]RunSummary, 0)
	for rows.Next() {
		var (
			r                 RunSummary
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &r.FailedAt, &r.Events, &r.Findings, &r.Risks, &r.Commands, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(timeLayout, started)
		r.FinishedAt, _ = time.Parse(timeLayout, finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindingsForEntity returns stored findings keyed on entity, newest first
func (s *SQLite) FindingsForEntity(ctx context.Context, entity string, limit int) ([]StoredFinding, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT run_id, rule_name, severity, entity, details, observed_at
		FROM findings WHERE entity = ? ORDER BY observed_at DESC, seq LIMIT ?`, entity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings for %s: %w", entity, err)
	}
	defer rows.Close()

	out := make([]StoredFinding, 0)
	for rows.Next() {
		var (
			f        StoredFinding
			severity string
			observed string
		)
		if err := rows.Scan(&f.RunID, &f.RuleName, &severity, &f.Key, &f.Details, &observed); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.Severity = core.Severity(severity)
		f.Timestamp, _ = time.Parse(timeLayout, observed)
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its findings
func (s *SQLite) DeleteRun(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}
