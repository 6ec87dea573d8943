package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"convoy/internal/history"
	"convoy/internal/pipeline"
)

const (
	MaxPayloadBytes = 1_000_000 // 1 MB

	RecentRunsLimit = 10
)

// TriggerPayload is the signed body of a trigger request. The booleans are
// pointers so an absent field can fall back to its default rather than
// false.
type TriggerPayload struct {
	Branch       string `json:"branch"`
	RunQATests   *bool  `json:"run_qa_tests"`
	DeployToProd *bool  `json:"deploy_to_prod"`
}

// HandleTrigger starts a pipeline run from a signed trigger request.
func (s *Server) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	if r.Header.Get("Content-Type") != "application/json" {
		s.respondJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Invalid content type"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes))
	if err != nil {
		s.Logger.Error("Failed to read request body", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read payload"})
		return
	}

	if !s.TestMode {
		signature := r.Header.Get("X-Convoy-Signature-256")
		if !VerifySignature(body, signature, s.TriggerSecret) {
			s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Invalid signature"})
			return
		}
	}

	var payload TriggerPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.Logger.Error("Failed to parse JSON payload", "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}

	opts := pipeline.Options{
		Branch:       payload.Branch,
		RunQATests:   true,
		DeployToProd: false,
	}
	if payload.RunQATests != nil {
		opts.RunQATests = *payload.RunQATests
	}
	if payload.DeployToProd != nil {
		opts.DeployToProd = *payload.DeployToProd
	}

	// One run at a time; concurrent triggers are rejected, not queued.
	if !s.runLock.TryLock() {
		s.Logger.Warn("Pipeline run already in progress, rejecting trigger")

		if s.History != nil {
			msg := "Pipeline run already in progress"
			if _, err := s.History.RecordRun(r.Context(), &history.RunRecord{
				Branch:       opts.Branch,
				Outcome:      "rejected",
				ErrorMessage: &msg,
			}); err != nil {
				s.Logger.Error("Failed to record rejection in history", "error", err)
			}
		}

		s.respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Pipeline run already in progress"})
		return
	}

	// Respond immediately; triggering systems have short webhook timeouts,
	// so the run proceeds asynchronously.
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "Pipeline run accepted",
		"branch":  opts.Branch,
	})

	s.runWg.Add(1)
	go func() {
		defer s.runWg.Done()
		defer s.runLock.Unlock()
		s.executeRun(context.Background(), opts)
	}()
}

// executeRun runs the pipeline and records history.
func (s *Server) executeRun(ctx context.Context, opts pipeline.Options) {
	run := s.Runner.Execute(ctx, opts)

	if s.History != nil {
		if _, err := s.History.RecordRun(ctx, RunToRecord(run)); err != nil {
			s.Logger.Error("Failed to record run history", "error", err, "run_id", run.ID.String())
		}
	}

	if run.Outcome == pipeline.OutcomeSuccess {
		s.Logger.Info("pipeline run completed", "run_id", run.ID.String(), "outcome", "success")
	} else {
		s.Logger.Error("pipeline run failed",
			"run_id", run.ID.String(), "stage", string(run.FailedStage), "error", run.Err)
	}
}

// RunToRecord converts a finished pipeline run into its history record.
func RunToRecord(run *pipeline.Run) *history.RunRecord {
	record := &history.RunRecord{
		RunID:       run.ID.String(),
		Branch:      run.Branch,
		Artifact:    run.Artifact.String(),
		Outcome:     string(run.Outcome),
		FailedStage: string(run.FailedStage),
		QAOutcome:   string(run.QAOutcome),
		StartedAt:   run.StartedAt,
	}

	if run.Artifact.Image == "" {
		record.Artifact = ""
	}

	duration := run.Duration.Seconds()
	record.DurationSeconds = &duration

	completedAt := run.StartedAt.Add(run.Duration)
	record.CompletedAt = &completedAt

	if run.Err != nil {
		msg := run.Err.Error()
		record.ErrorMessage = &msg
	}

	return record
}

// HandleHealth handles health check requests.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStatus returns the latest run and recent run history.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "History not available"})
		return
	}

	latest, err := s.History.LatestRun(r.Context())
	if err != nil {
		s.Logger.Error("Failed to get latest run", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch run status"})
		return
	}

	recent, err := s.History.RecentRuns(r.Context(), RecentRunsLimit)
	if err != nil {
		s.Logger.Error("Failed to get run history", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch run status"})
		return
	}

	response := map[string]interface{}{
		"latest_run":  latest,
		"recent_runs": recent,
	}

	s.respondJSON(w, http.StatusOK, response)
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}
