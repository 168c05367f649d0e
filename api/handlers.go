package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"warden/core"
	"warden/detect"
	"warden/ground"
	"warden/ingest"
	"warden/repair"
	"warden/storage"
	"warden/triage"

	"github.com/gorilla/mux"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 1000
)

// DetectResponse is returned by POST /api/v1/detect
type DetectResponse struct {
	Events     int            `json:"events"`
	Findings   []core.Finding `json:"findings"`
	SkipCounts map[string]int `json:"skip_counts"`
	Signals    string         `json:"signals"`
}

// GroundRequest is the body of POST /api/v1/ground.
// Events build the allowlist; without them every named entity is unknown.
type GroundRequest struct {
	Text   string                   `json:"text"`
	Events []map[string]interface{} `json:"events,omitempty"`
}

// GroundResponse is returned by POST /api/v1/ground
type GroundResponse struct {
	Text    string          `json:"text"`
	Dropped int             `json:"dropped"`
	Unknown []string        `json:"unknown,omitempty"`
	Risks   []core.RiskItem `json:"risks"`
}

// RepairRequest is the body of POST /api/v1/repair.
// Text is grounded against Events the same way /ground does before repair.
type RepairRequest struct {
	Text   string                   `json:"text"`
	Events []map[string]interface{} `json:"events,omitempty"`
	Risks  []core.RiskItem          `json:"risks,omitempty"`
}

// RepairResponse is returned by POST /api/v1/repair
type RepairResponse struct {
	repair.Result
	Dropped int `json:"dropped"`
}

func normalizeAll(raw []map[string]interface{}) []core.Event {
	events := make([]core.Event, 0, len(raw))
	for _, r := range raw {
		events = append(events, ingest.Normalize(r))
	}
	ingest.SortChronological(events)
	return events
}

func (a *API) detect(w http.ResponseWriter, r *http.Request) {
	data, ok := a.readBody(w, r)
	if !ok {
		return
	}
	var raw []map[string]interface{}
	if !a.decodeValidated(w, schemaDetect, data, &raw) {
		return
	}

	engine, err := detect.NewEngine(a.config.Detection, a.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Detection is misconfigured", err, a.logger)
		return
	}
	events := normalizeAll(raw)
	findings := engine.EvaluateAll(events)
	if findings == nil {
		findings = []core.Finding{}
	}

	if a.sink != nil && len(findings) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		if err := a.sink.Publish(ctx, findings); err != nil {
			a.logger.Warnf("Failed to publish %d findings: %v", len(findings), err)
		}
		cancel()
	}

	writeJSON(w, http.StatusOK, DetectResponse{
		Events:     len(events),
		Findings:   findings,
		SkipCounts: engine.SkipCounts(),
		Signals:    triage.FormatSignals(findings, a.config.Grounding.MaxSignals),
	}, a.logger)
}

func (a *API) ground(w http.ResponseWriter, r *http.Request) {
	data, ok := a.readBody(w, r)
	if !ok {
		return
	}
	var req GroundRequest
	if !a.decodeValidated(w, schemaGround, data, &req) {
		return
	}

	allow := ground.NewAllowlist(normalizeAll(req.Events))
	res := ground.Suppress(req.Text, allow)
	risks := ground.NewRiskRegister()
	risks.Tag(res.Text)
	risks.EnsureNonEmpty()

	writeJSON(w, http.StatusOK, GroundResponse{
		Text:    res.Text,
		Dropped: res.Dropped,
		Unknown: res.Unknown,
		Risks:   risks.Items(),
	}, a.logger)
}

func (a *API) repairCommands(w http.ResponseWriter, r *http.Request) {
	data, ok := a.readBody(w, r)
	if !ok {
		return
	}
	var req RepairRequest
	if !a.decodeValidated(w, schemaRepair, data, &req) {
		return
	}

	var lookup repair.PrincipalLookup
	if len(req.Risks) > 0 {
		reg, err := ground.RestoreRiskRegister(req.Risks)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid risks", err, a.logger, err.Error())
			return
		}
		lookup = reg
	}

	res := ground.Suppress(req.Text, ground.NewAllowlist(normalizeAll(req.Events)))

	result := a.repair.Repair(res.Text, lookup)
	if result.Blocks == nil {
		result.Blocks = []core.CommandBlock{}
	}
	writeJSON(w, http.StatusOK, RepairResponse{Result: result, Dropped: res.Dropped}, a.logger)
}

func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	if a.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "Run history is disabled", nil, a.logger)
		return
	}

	limit := defaultRunLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxRunLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000", err, a.logger)
			return
		}
		limit = n
	}

	runs, err := a.runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, runs, a.logger)
}

func (a *API) getRun(w http.ResponseWriter, r *http.Request) {
	if a.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "Run history is disabled", nil, a.logger)
		return
	}

	id := mux.Vars(r)["id"]
	report, err := a.runs.GetRun(r.Context(), id)
	if errors.Is(err, storage.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "Run not found", err, a.logger)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load run", err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, report, a.logger)
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"time":         time.Now().UTC().Format(time.RFC3339),
		"run_history":  a.runs != nil,
		"finding_sink": a.sink != nil,
	}, a.logger)
}
