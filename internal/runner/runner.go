// Package runner executes stored collections and ad-hoc requests, recording
// a Run with one Result per HTTP call.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/josepht96/scoutrun/internal/assertion"
	"github.com/josepht96/scoutrun/internal/executor"
	"github.com/josepht96/scoutrun/internal/storage"
	"github.com/josepht96/scoutrun/internal/transform"
	"github.com/josepht96/scoutrun/internal/variables"
)

// ErrValidation is wrapped by errors for input rejected before a run starts.
var ErrValidation = errors.New("validation failed")

// Store is the persistence the runner needs.
type Store interface {
	GetCollection(ctx context.Context, id int64) (*storage.Collection, error)
	GetEnvironment(ctx context.Context, id int64) (*storage.Environment, error)
	GetRequest(ctx context.Context, id int64) (*storage.Request, error)
	GetTestCase(ctx context.Context, id int64) (*storage.TestCase, error)
	GetReport(ctx context.Context, reportID string) (*storage.AutomationReport, error)
	CreateRun(ctx context.Context, run *storage.Run) error
	FinalizeRun(ctx context.Context, run *storage.Run) error
	CreateResult(ctx context.Context, r *storage.Result) error
	UpdateResult(ctx context.Context, r *storage.Result) error
	LinkResults(ctx context.Context, reportID string, resultIDs ...int64) error
}

// Observer is told about every recorded result and finished run.
type Observer interface {
	ObserveResult(method string, result *storage.Result)
	ObserveRun(collection *storage.Collection, run *storage.Run)
}

// Config wires a Runner.
type Config struct {
	Store     Store
	Transport executor.Transport
	Builder   *executor.Builder
	Observer  Observer
	Logger    *slog.Logger
	// DefaultTimeoutMS applies to ad-hoc requests without a timeout.
	DefaultTimeoutMS int
}

// Runner executes requests sequentially within a run. Separate runs may
// execute concurrently on one Runner.
type Runner struct {
	store          Store
	transport      executor.Transport
	builder        *executor.Builder
	observer       Observer
	logger         *slog.Logger
	defaultTimeout int
}

// New creates a Runner.
func New(cfg Config) *Runner {
	if cfg.Builder == nil {
		cfg.Builder = executor.NewBuilder(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultTimeoutMS <= 0 {
		cfg.DefaultTimeoutMS = storage.DefaultTimeoutMS
	}
	return &Runner{
		store:          cfg.Store,
		transport:      cfg.Transport,
		builder:        cfg.Builder,
		observer:       cfg.Observer,
		logger:         cfg.Logger,
		defaultTimeout: cfg.DefaultTimeoutMS,
	}
}

// Options parameterize a collection run.
type Options struct {
	EnvironmentID      *int64
	Overrides          map[string]any
	TriggeredBy        *string
	AutomationReportID string
}

// RunCollection executes every request of a collection in (order, id)
// order. Unknown collection, environment or report ids fail before a Run
// is created. Per-request failures are recorded, not returned; an error is
// returned only when persistence fails, together with the partial run.
func (r *Runner) RunCollection(ctx context.Context, collectionID int64, opts Options) (*storage.Run, error) {
	collection, err := r.store.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	env, err := r.environment(ctx, opts.EnvironmentID)
	if err != nil {
		return nil, err
	}
	if err := r.checkReport(ctx, opts.AutomationReportID); err != nil {
		return nil, err
	}

	requests := append([]storage.Request(nil), collection.Requests...)
	sort.SliceStable(requests, func(i, j int) bool {
		if requests[i].Order != requests[j].Order {
			return requests[i].Order < requests[j].Order
		}
		return requests[i].ID < requests[j].ID
	})

	// Runs are not cancelled once started; only the per-request timeout applies.
	ctx = context.WithoutCancel(ctx)

	run := &storage.Run{
		CollectionID:  &collection.ID,
		EnvironmentID: opts.EnvironmentID,
		TriggeredBy:   opts.TriggeredBy,
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	r.logger.Info("run started", "run_id", run.ID, "collection_id", collection.ID, "requests", len(requests))

	vars := mergeVars(env, opts.Overrides)
	for i := range requests {
		result, _, err := r.execute(ctx, run, &requests[i], i, vars, env, nil)
		if result != nil {
			run.Results = append(run.Results, *result)
		}
		if err != nil {
			r.abort(ctx, run, collection, err)
			var perr *panicError
			if errors.As(err, &perr) {
				return run, nil
			}
			return run, err
		}
	}

	if err := r.finish(ctx, run, collection, opts.AutomationReportID); err != nil {
		return run, err
	}
	return run, nil
}

func (r *Runner) environment(ctx context.Context, id *int64) (*storage.Environment, error) {
	if id == nil {
		return nil, nil
	}
	return r.store.GetEnvironment(ctx, *id)
}

func (r *Runner) checkReport(ctx context.Context, reportID string) error {
	if reportID == "" {
		return nil
	}
	_, err := r.store.GetReport(ctx, reportID)
	return err
}

func mergeVars(env *storage.Environment, overrides map[string]any) map[string]any {
	var envVars map[string]any
	if env != nil {
		envVars = env.Variables
	}
	return variables.Merge(envVars, overrides)
}

// panicError is returned by execute when request handling panicked.
type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// execute records one request. The Result row is created in the error
// state before anything else so a crash still leaves it behind. The
// returned error is fatal to the run.
func (r *Runner) execute(
	ctx context.Context,
	run *storage.Run,
	req *storage.Request,
	order int,
	vars map[string]any,
	env *storage.Environment,
	testCaseID *int64,
) (result *storage.Result, applied []transform.Applied, err error) {
	result = &storage.Result{RunID: run.ID, Order: order, TestCaseID: testCaseID}
	if req.ID != 0 {
		result.RequestID = &req.ID
	}
	if err := r.store.CreateResult(ctx, result); err != nil {
		return nil, nil, err
	}

	defer func() {
		if v := recover(); v != nil {
			perr := &panicError{value: v, stack: debug.Stack()}
			r.logger.Error("request panicked", "run_id", run.ID, "result_id", result.ID,
				"panic", v, "stack", string(perr.stack))
			result.Status = storage.ResultError
			result.Error = perr.Error()
			if uerr := r.store.UpdateResult(ctx, result); uerr != nil {
				r.logger.Error("failed to record panic", "result_id", result.ID, "error", uerr)
			}
			err = perr
		}
	}()

	call, err := r.builder.Build(req, vars, env)
	if err != nil {
		result.Error = err.Error()
		return result, nil, r.record(ctx, req.Method, result)
	}
	applied = call.Applied

	start := time.Now()
	resp, err := r.transport.Do(ctx, call)
	result.ResponseTimeMS = executor.Elapsed(start)
	if err != nil {
		result.Error = err.Error()
		return result, applied, r.record(ctx, call.Method, result)
	}

	outcome := assertion.Evaluate(req.Assertions, &assertion.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	})
	status := resp.StatusCode
	result.ResponseStatus = &status
	result.ResponseHeaders = flattenHeaders(resp.Header)
	result.ResponseBody = TruncateBody(resp.Body, storage.MaxResponseBody)
	result.AssertionsPassed = outcome.Passed
	result.AssertionsFailed = outcome.Failed
	result.Status = storage.ResultFailed
	if outcome.OK() {
		result.Status = storage.ResultPassed
	}
	return result, applied, r.record(ctx, call.Method, result)
}

func (r *Runner) record(ctx context.Context, method string, result *storage.Result) error {
	if err := r.store.UpdateResult(ctx, result); err != nil {
		return err
	}
	r.logger.Debug("request finished",
		"run_id", result.RunID,
		"result_id", result.ID,
		"order", result.Order,
		"status", result.Status,
		"response_time_ms", result.ResponseTimeMS,
		"error", result.Error,
	)
	if r.observer != nil {
		r.observer.ObserveResult(method, result)
	}
	return nil
}

// finish seals the run and links its results to the automation report.
func (r *Runner) finish(ctx context.Context, run *storage.Run, collection *storage.Collection, reportID string) error {
	run.Summary = Summarize(run.Results)
	run.Status = storage.RunFailed
	if run.Summary.PassedRequests == run.Summary.TotalRequests {
		run.Status = storage.RunPassed
	}
	if err := r.store.FinalizeRun(ctx, run); err != nil {
		return err
	}
	r.logger.Info("run finished",
		"run_id", run.ID,
		"status", run.Status,
		"total", run.Summary.TotalRequests,
		"passed", run.Summary.PassedRequests,
		"failed", run.Summary.FailedRequests,
		"errors", run.Summary.ErrorRequests,
	)
	if r.observer != nil {
		r.observer.ObserveRun(collection, run)
	}

	if reportID == "" || len(run.Results) == 0 {
		return nil
	}
	ids := make([]int64, len(run.Results))
	for i, res := range run.Results {
		ids[i] = res.ID
	}
	if err := r.store.LinkResults(ctx, reportID, ids...); err != nil {
		return fmt.Errorf("failed to link results to report %s: %w", reportID, err)
	}
	return nil
}

// abort seals a run that hit a fatal error. Results written so far stay.
func (r *Runner) abort(ctx context.Context, run *storage.Run, collection *storage.Collection, cause error) {
	r.logger.Error("run aborted", "run_id", run.ID, "error", cause)
	run.Summary = Summarize(run.Results)
	run.Status = storage.RunFailed
	if err := r.store.FinalizeRun(ctx, run); err != nil {
		r.logger.Error("failed to finalize aborted run", "run_id", run.ID, "error", err)
		return
	}
	if r.observer != nil {
		r.observer.ObserveRun(collection, run)
	}
}

// Summarize counts results by status.
func Summarize(results []storage.Result) storage.Summary {
	s := storage.Summary{TotalRequests: len(results)}
	for _, res := range results {
		switch res.Status {
		case storage.ResultPassed:
			s.PassedRequests++
		case storage.ResultFailed:
			s.FailedRequests++
		default:
			s.ErrorRequests++
		}
	}
	return s
}

// TruncateBody renders body as valid UTF-8 text of at most limit bytes,
// cutting on a rune boundary. NUL bytes are dropped since text columns
// reject them.
func TruncateBody(body []byte, limit int) string {
	s := strings.ToValidUTF8(string(body), "\uFFFD")
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func flattenHeaders(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[k] = strings.Join(vs, ", ")
	}
	return out
}
