package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josepht96/scoutrun/internal/assertion"
	"github.com/josepht96/scoutrun/internal/executor"
	"github.com/josepht96/scoutrun/internal/storage"
)

type fakeTransport struct {
	mu      sync.Mutex
	calls   []*executor.Call
	respond func(n int, call *executor.Call) (*executor.Response, error)
}

func (f *fakeTransport) Do(_ context.Context, call *executor.Call) (*executor.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	n := len(f.calls)
	f.mu.Unlock()
	return f.respond(n, call)
}

func okJSON(body string, header http.Header) func(int, *executor.Call) (*executor.Response, error) {
	return func(int, *executor.Call) (*executor.Response, error) {
		if header == nil {
			header = http.Header{}
		}
		return &executor.Response{StatusCode: http.StatusOK, Header: header, Body: []byte(body)}, nil
	}
}

type countingObserver struct {
	mu      sync.Mutex
	results []string
	runs    []string
}

func (o *countingObserver) ObserveResult(method string, result *storage.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, method+" "+result.Status)
}

func (o *countingObserver) ObserveRun(_ *storage.Collection, run *storage.Run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, run.Status)
}

type fixture struct {
	store     *storage.Storage
	transport *fakeTransport
	observer  *countingObserver
	runner    *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewStorage(storage.DriverSQLite, filepath.Join(t.TempDir(), "runner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.RunMigrations(context.Background()))

	f := &fixture{
		store:     store,
		transport: &fakeTransport{respond: okJSON("{}", nil)},
		observer:  &countingObserver{},
	}
	f.runner = New(Config{
		Store:     store,
		Transport: f.transport,
		Observer:  f.observer,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

// widgetsCollection stores env {base_url: https://x} and a collection with
// one GET {{base_url}}/widgets asserting status 200.
func (f *fixture) widgetsCollection(t *testing.T) (*storage.Environment, *storage.Collection) {
	t.Helper()
	ctx := context.Background()
	env := &storage.Environment{Name: "x", Variables: map[string]any{"base_url": "https://x"}}
	require.NoError(t, f.store.CreateEnvironment(ctx, env))

	c := &storage.Collection{
		Name:           "widgets",
		EnvironmentIDs: []int64{env.ID},
		Requests: []storage.Request{{
			Name:       "list widgets",
			Method:     "GET",
			URL:        "{{base_url}}/widgets",
			Assertions: []assertion.Assertion{{Type: assertion.TypeStatusCode, ExpectedValue: "200"}},
		}},
	}
	require.NoError(t, f.store.CreateCollection(ctx, c))
	return env, c
}

func TestRunCollectionEnvMerge(t *testing.T) {
	f := newFixture(t)
	env, c := f.widgetsCollection(t)

	run, err := f.runner.RunCollection(context.Background(), c.ID, Options{EnvironmentID: &env.ID})
	require.NoError(t, err)

	assert.Equal(t, storage.RunPassed, run.Status)
	assert.Equal(t, storage.Summary{TotalRequests: 1, PassedRequests: 1}, run.Summary)
	require.Len(t, f.transport.calls, 1)
	assert.Equal(t, "https://x/widgets", f.transport.calls[0].URL)

	stored, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunPassed, stored.Status)
	require.NotNil(t, stored.FinishedAt)
	require.Len(t, stored.Results, 1)
	assert.Equal(t, storage.ResultPassed, stored.Results[0].Status)
	assert.Len(t, stored.Results[0].AssertionsPassed, 1)

	assert.Equal(t, []string{"GET passed"}, f.observer.results)
	assert.Equal(t, []string{storage.RunPassed}, f.observer.runs)
}

func TestRunCollectionOverrides(t *testing.T) {
	f := newFixture(t)
	env, c := f.widgetsCollection(t)

	_, err := f.runner.RunCollection(context.Background(), c.ID, Options{
		EnvironmentID: &env.ID,
		Overrides:     map[string]any{"base_url": "https://y"},
	})
	require.NoError(t, err)
	require.Len(t, f.transport.calls, 1)
	assert.Equal(t, "https://y/widgets", f.transport.calls[0].URL)
}

func TestRunCollectionHeaderAssertionFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := &storage.Collection{
		Name: "env check",
		Requests: []storage.Request{{
			URL: "https://x/env",
			Assertions: []assertion.Assertion{{
				Type:          assertion.TypeHeader,
				Field:         "X-Env",
				Comparator:    assertion.Equals,
				ExpectedValue: "staging",
			}},
		}},
	}
	require.NoError(t, f.store.CreateCollection(ctx, c))
	f.transport.respond = okJSON("{}", http.Header{"X-Env": []string{"production"}})

	run, err := f.runner.RunCollection(ctx, c.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, storage.RunFailed, run.Status)
	assert.Equal(t, storage.Summary{TotalRequests: 1, FailedRequests: 1}, run.Summary)

	stored, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stored.Results, 1)
	res := stored.Results[0]
	assert.Equal(t, storage.ResultFailed, res.Status)
	require.Len(t, res.AssertionsFailed, 1)
	assert.Equal(t, "production", res.AssertionsFailed[0].Actual)
	assert.Equal(t, "production", res.ResponseHeaders["X-Env"])
}

func TestRunCollectionTransportError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := &storage.Collection{
		Name: "two",
		Requests: []storage.Request{
			{Name: "first", URL: "https://x/1", Order: 0},
			{Name: "second", URL: "https://x/2", Order: 1},
		},
	}
	require.NoError(t, f.store.CreateCollection(ctx, c))
	f.transport.respond = func(n int, call *executor.Call) (*executor.Response, error) {
		if n == 2 {
			return nil, errors.New("dial tcp 127.0.0.1:9: connect: connection refused")
		}
		return &executor.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte("{}")}, nil
	}

	run, err := f.runner.RunCollection(ctx, c.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, storage.RunFailed, run.Status)
	assert.Equal(t, storage.Summary{TotalRequests: 2, PassedRequests: 1, ErrorRequests: 1}, run.Summary)

	stored, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stored.Results, 2)
	assert.Equal(t, storage.ResultPassed, stored.Results[0].Status)
	assert.Equal(t, storage.ResultError, stored.Results[1].Status)
	assert.Contains(t, stored.Results[1].Error, "connection refused")
	assert.Nil(t, stored.Results[1].ResponseStatus)
	assert.Equal(t, 1, stored.Results[1].Order)
}

func TestRunCollectionPanicStopsRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := &storage.Collection{
		Name: "panics",
		Requests: []storage.Request{
			{Name: "boom", URL: "https://x/1", Order: 0},
			{Name: "never", URL: "https://x/2", Order: 1},
		},
	}
	require.NoError(t, f.store.CreateCollection(ctx, c))
	f.transport.respond = func(int, *executor.Call) (*executor.Response, error) {
		panic("transport exploded")
	}

	run, err := f.runner.RunCollection(ctx, c.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, storage.RunFailed, run.Status)
	assert.Len(t, f.transport.calls, 1)

	stored, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stored.Results, 1)
	assert.Equal(t, storage.ResultError, stored.Results[0].Status)
	assert.Contains(t, stored.Results[0].Error, "transport exploded")
	require.NotNil(t, stored.FinishedAt)
}

func TestRunCollectionUnknownReferencesCreateNoRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, c := f.widgetsCollection(t)

	_, err := f.runner.RunCollection(ctx, c.ID+100, Options{})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	missing := int64(999)
	_, err = f.runner.RunCollection(ctx, c.ID, Options{EnvironmentID: &missing})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.runner.RunCollection(ctx, c.ID, Options{AutomationReportID: "nope"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	runs, err := f.store.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Empty(t, f.transport.calls)
}

func TestRunCollectionTruncatesBody(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := &storage.Collection{Name: "big", Requests: []storage.Request{{URL: "https://x/big"}}}
	require.NoError(t, f.store.CreateCollection(ctx, c))
	f.transport.respond = okJSON(strings.Repeat("é", 15000), nil)

	run, err := f.runner.RunCollection(ctx, c.ID, Options{})
	require.NoError(t, err)

	stored, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	body := stored.Results[0].ResponseBody
	assert.LessOrEqual(t, len(body), storage.MaxResponseBody)
	assert.True(t, utf8.ValidString(body))
}

func TestRunCollectionLinksReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, c := f.widgetsCollection(t)
	report := &storage.AutomationReport{ReportID: "r1r1r1r1r1r1"}
	require.NoError(t, f.store.CreateReport(ctx, report))

	_, err := f.runner.RunCollection(ctx, c.ID, Options{AutomationReportID: report.ReportID})
	require.NoError(t, err)

	got, err := f.store.GetReport(ctx, report.ReportID)
	require.NoError(t, err)
	assert.Len(t, got.Results, 1)
}

func TestTruncateBody(t *testing.T) {
	assert.Equal(t, "abc", TruncateBody([]byte("abc"), 10))
	assert.Equal(t, "ab", TruncateBody([]byte("abcdef"), 2))
	// "é" is two bytes; never split it.
	assert.Equal(t, "a", TruncateBody([]byte("aé"), 2))
	assert.Equal(t, "ab", TruncateBody([]byte("a\x00b"), 10))
	assert.True(t, utf8.ValidString(TruncateBody([]byte{0xff, 'a'}, 10)))
}

func TestSummarize(t *testing.T) {
	s := Summarize([]storage.Result{
		{Status: storage.ResultPassed},
		{Status: storage.ResultFailed},
		{Status: storage.ResultError},
		{Status: storage.ResultPassed},
	})
	assert.Equal(t, storage.Summary{TotalRequests: 4, PassedRequests: 2, FailedRequests: 1, ErrorRequests: 1}, s)
	assert.Equal(t, s.TotalRequests, s.PassedRequests+s.FailedRequests+s.ErrorRequests)
}
