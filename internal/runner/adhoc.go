package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/josepht96/scoutrun/internal/assertion"
	"github.com/josepht96/scoutrun/internal/storage"
	"github.com/josepht96/scoutrun/internal/transform"
)

// AdHocRequest is an inline request sent from the tester surface.
type AdHocRequest struct {
	Method             string                `json:"method"`
	URL                string                `json:"url"`
	Headers            map[string]string     `json:"headers,omitempty"`
	Params             map[string]any        `json:"params,omitempty"`
	JSON               any                   `json:"json,omitempty"`
	Body               *string               `json:"body,omitempty"`
	FormData           map[string]string     `json:"form_data,omitempty"`
	AuthType           string                `json:"auth_type,omitempty"`
	AuthBasic          storage.BasicAuth     `json:"auth_basic"`
	AuthBearer         string                `json:"auth_bearer,omitempty"`
	TimeoutMS          int                   `json:"timeout_ms,omitempty"`
	Environment        *int64                `json:"environment,omitempty"`
	Overrides          map[string]any        `json:"overrides,omitempty"`
	CollectionID       *int64                `json:"collection_id,omitempty"`
	RequestID          *int64                `json:"request_id,omitempty"`
	TestCaseID         *int64                `json:"test_case_id,omitempty"`
	BodyTransforms     json.RawMessage       `json:"body_transforms,omitempty"`
	Assertions         []assertion.Assertion `json:"assertions,omitempty"`
	AutomationReportID string                `json:"automation_report_id,omitempty"`
	TriggeredBy        *string               `json:"-"`
}

// AdHocResult is returned by Execute.
type AdHocResult struct {
	RunID       int64               `json:"run_id"`
	RunResultID int64               `json:"run_result_id"`
	Status      string              `json:"status"`
	Summary     storage.Summary     `json:"summary"`
	Result      storage.Result      `json:"result"`
	Applied     []transform.Applied `json:"applied_transforms"`
}

// Execute runs a single inline request as a one-result Run. Malformed input
// wraps ErrValidation and unknown references wrap storage.ErrNotFound;
// neither creates a Run.
func (r *Runner) Execute(ctx context.Context, in *AdHocRequest) (*AdHocResult, error) {
	req, err := r.adHocRequest(in)
	if err != nil {
		return nil, err
	}

	env, err := r.environment(ctx, in.Environment)
	if err != nil {
		return nil, err
	}
	var collection *storage.Collection
	if in.RequestID != nil {
		stored, err := r.store.GetRequest(ctx, *in.RequestID)
		if err != nil {
			return nil, err
		}
		req.ID = stored.ID
		if in.Assertions == nil {
			req.Assertions = stored.Assertions
		}
		if in.CollectionID == nil {
			in.CollectionID = &stored.CollectionID
		}
	}
	if in.CollectionID != nil {
		if collection, err = r.store.GetCollection(ctx, *in.CollectionID); err != nil {
			return nil, err
		}
	}
	if in.TestCaseID != nil {
		if _, err := r.store.GetTestCase(ctx, *in.TestCaseID); err != nil {
			return nil, err
		}
	}
	if err := r.checkReport(ctx, in.AutomationReportID); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)

	run := &storage.Run{
		CollectionID:  in.CollectionID,
		EnvironmentID: in.Environment,
		TriggeredBy:   in.TriggeredBy,
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	result, applied, err := r.execute(ctx, run, req, 0, mergeVars(env, in.Overrides), env, in.TestCaseID)
	if result != nil {
		run.Results = append(run.Results, *result)
	}
	var perr *panicError
	switch {
	case errors.As(err, &perr):
		r.abort(ctx, run, collection, err)
	case err != nil:
		r.abort(ctx, run, collection, err)
		return nil, err
	default:
		if err := r.finish(ctx, run, collection, in.AutomationReportID); err != nil {
			return nil, err
		}
	}

	out := &AdHocResult{
		RunID:   run.ID,
		Status:  run.Status,
		Summary: run.Summary,
		Applied: applied,
	}
	if result != nil {
		out.RunResultID = result.ID
		out.Result = *result
	}
	if out.Applied == nil {
		out.Applied = []transform.Applied{}
	}
	return out, nil
}

// adHocRequest validates in and converts it to an unsaved Request.
func (r *Runner) adHocRequest(in *AdHocRequest) (*storage.Request, error) {
	req := &storage.Request{
		Name:        "ad-hoc",
		Method:      strings.ToUpper(strings.TrimSpace(in.Method)),
		URL:         strings.TrimSpace(in.URL),
		TimeoutMS:   in.TimeoutMS,
		Headers:     in.Headers,
		QueryParams: in.Params,
		BodyType:    storage.BodyNone,
		AuthType:    in.AuthType,
		AuthBasic:   in.AuthBasic,
		AuthBearer:  in.AuthBearer,
		Assertions:  in.Assertions,
	}
	if req.Method == "" {
		req.Method = "GET"
	}
	if req.TimeoutMS <= 0 {
		req.TimeoutMS = r.defaultTimeout
	}
	if req.AuthType == "" {
		req.AuthType = storage.AuthNone
	}

	bodies := 0
	if in.JSON != nil {
		req.BodyType, req.BodyJSON = storage.BodyJSON, in.JSON
		bodies++
	}
	if in.FormData != nil {
		req.BodyType, req.BodyForm = storage.BodyForm, in.FormData
		bodies++
	}
	if in.Body != nil {
		req.BodyType, req.BodyRaw = storage.BodyRaw, *in.Body
		bodies++
	}
	if bodies > 1 {
		return nil, fmt.Errorf("%w: only one of json, body and form_data may be set", ErrValidation)
	}

	spec, err := transform.Parse(in.BodyTransforms)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	req.BodyTransforms = spec

	if req.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrValidation)
	}
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	return req, nil
}

// ValidateRequest checks the enumerated fields, assertions and transform
// spec of a request before it is stored or executed.
func ValidateRequest(req *storage.Request) error {
	if !storage.Methods[strings.ToUpper(req.Method)] {
		return fmt.Errorf("%w: unsupported method %q", ErrValidation, req.Method)
	}
	switch req.BodyType {
	case "", storage.BodyNone, storage.BodyJSON, storage.BodyForm, storage.BodyRaw:
	default:
		return fmt.Errorf("%w: unsupported body_type %q", ErrValidation, req.BodyType)
	}
	switch req.AuthType {
	case "", storage.AuthNone, storage.AuthBasic, storage.AuthBearer:
	default:
		return fmt.Errorf("%w: unsupported auth_type %q", ErrValidation, req.AuthType)
	}
	if req.Order < 0 {
		return fmt.Errorf("%w: order must not be negative", ErrValidation)
	}
	if req.TimeoutMS < 0 {
		return fmt.Errorf("%w: timeout_ms must be positive", ErrValidation)
	}
	for i, a := range req.Assertions {
		if err := assertion.Validate(a); err != nil {
			return fmt.Errorf("%w: assertions[%d]: %w", ErrValidation, i, err)
		}
	}
	if err := req.BodyTransforms.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}
