package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/josepht96/scoutrun/internal/runner"
	"github.com/josepht96/scoutrun/internal/storage"
	"github.com/josepht96/scoutrun/internal/transform"
)

// Runs listing bounds.
const (
	defaultRunsLimit = 50
	maxRunsLimit     = 200
)

// requestPayload is a Request whose body_transforms is schema-validated
// before it is decoded.
type requestPayload struct {
	storage.Request
	BodyTransforms json.RawMessage `json:"body_transforms,omitempty"`
}

// toRequest validates the payload and returns the request to store.
func (p *requestPayload) toRequest() (*storage.Request, error) {
	req := p.Request
	if req.Method == "" {
		req.Method = "GET"
	}
	req.Method = strings.ToUpper(req.Method)
	spec, err := transform.Parse(p.BodyTransforms)
	if err != nil {
		return nil, err
	}
	req.BodyTransforms = spec
	if err := runner.ValidateRequest(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Server) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := s.storage.ListEnvironments(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if envs == nil {
		envs = []storage.Environment{}
	}
	writeJSON(w, http.StatusOK, envs)
}

func (s *Server) handleCreateEnvironment(w http.ResponseWriter, r *http.Request) {
	var env storage.Environment
	if err := decodeJSON(r, &env); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if strings.TrimSpace(env.Name) == "" {
		writeError(w, s.logger, fmt.Errorf("%w: name is required", errBadRequest))
		return
	}
	if err := s.storage.CreateEnvironment(r.Context(), &env); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, env)
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := s.storage.ListCollections(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if collections == nil {
		collections = []storage.Collection{}
	}
	writeJSON(w, http.StatusOK, collections)
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	c, err := s.storage.GetCollection(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name         string           `json:"name"`
		Slug         string           `json:"slug"`
		Description  string           `json:"description"`
		Environments []int64          `json:"environments"`
		Requests     []requestPayload `json:"requests"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		writeError(w, s.logger, fmt.Errorf("%w: name is required", errBadRequest))
		return
	}

	c := &storage.Collection{
		Name:           body.Name,
		Slug:           strings.TrimSpace(body.Slug),
		Description:    body.Description,
		EnvironmentIDs: body.Environments,
	}
	for i := range body.Requests {
		req, err := body.Requests[i].toRequest()
		if err != nil {
			writeError(w, s.logger, fmt.Errorf("requests[%d]: %w", i, err))
			return
		}
		c.Requests = append(c.Requests, *req)
	}
	for _, envID := range c.EnvironmentIDs {
		if _, err := s.storage.GetEnvironment(r.Context(), envID); err != nil {
			writeError(w, s.logger, err)
			return
		}
	}

	if err := s.storage.CreateCollection(r.Context(), c); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.storage.DeleteCollection(r.Context(), id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	collectionID, err := pathID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var body requestPayload
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if _, err := s.storage.GetCollection(r.Context(), collectionID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	req.CollectionID = collectionID
	if err := s.storage.CreateRequest(r.Context(), req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleUpdateRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var body requestPayload
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	req.ID = id
	if err := s.storage.UpdateRequest(r.Context(), req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	stored, err := s.storage.GetRequest(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.storage.DeleteRequest(r.Context(), id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunCollection executes a stored collection and returns the Run.
func (s *Server) handleRunCollection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var body struct {
		Environment        *int64         `json:"environment"`
		Overrides          map[string]any `json:"overrides"`
		AutomationReportID string         `json:"automation_report_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}

	run, err := s.runner.RunCollection(r.Context(), id, runner.Options{
		EnvironmentID:      body.Environment,
		Overrides:          body.Overrides,
		TriggeredBy:        triggeredBy(r),
		AutomationReportID: body.AutomationReportID,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

// handleExecute runs an inline request.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var in runner.AdHocRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	in.TriggeredBy = triggeredBy(r)

	res, err := s.runner.Execute(r.Context(), &in)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, s.logger, fmt.Errorf("%w: invalid limit %q", errBadRequest, raw))
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.storage.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	run, err := s.storage.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleCreateScenario(w http.ResponseWriter, r *http.Request) {
	var sc storage.Scenario
	if err := decodeJSON(r, &sc); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.storage.CreateScenario(r.Context(), &sc); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

// handleCreateTestCase creates a test case; its testcase_id is generated
// from the scenario title and any supplied value is ignored.
func (s *Server) handleCreateTestCase(w http.ResponseWriter, r *http.Request) {
	var tc storage.TestCase
	if err := decodeJSON(r, &tc); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.storage.CreateTestCase(r.Context(), &tc); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, tc)
}

func (s *Server) handleGetTestCase(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	tc, err := s.storage.GetTestCase(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

// handleUpdateTestCase renames a test case. A changed testcase_id is ignored.
func (s *Server) handleUpdateTestCase(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var tc storage.TestCase
	if err := decodeJSON(r, &tc); err != nil {
		writeError(w, s.logger, err)
		return
	}
	tc.ID = id
	if err := s.storage.UpdateTestCase(r.Context(), &tc); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

func (s *Server) handleSchedulerRun(w http.ResponseWriter, r *http.Request) {
	s.scheduler.RunNow()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "ok",
		"message": "Collection run triggered",
	})
}

func (s *Server) handleSchedulerStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.GetStats())
}
