package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josepht96/scoutrun/internal/assertion"
	"github.com/josepht96/scoutrun/internal/storage"
)

func TestParseOverrides(t *testing.T) {
	got, err := parseOverrides([]string{"user_id=42", "token=abc", "flags=[1,2]", "empty=", "url=http://x?a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"user_id": 42.0,
		"token":   "abc",
		"flags":   []any{1.0, 2.0},
		"empty":   "",
		"url":     "http://x?a=b",
	}, got)

	_, err = parseOverrides([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseOverrides([]string{"=x"})
	assert.Error(t, err)
}

func TestPrintRun(t *testing.T) {
	reqA, reqB := int64(1), int64(2)
	code := 200
	c := &storage.Collection{Name: "Orders", Requests: []storage.Request{
		{ID: reqA, Name: "list", Method: "GET"},
		{ID: reqB, Name: "create", Method: "POST"},
	}}
	run := &storage.Run{
		ID:      7,
		Status:  storage.RunFailed,
		Summary: storage.Summary{TotalRequests: 2, PassedRequests: 1, ErrorRequests: 1},
		Results: []storage.Result{
			{RequestID: &reqA, Order: 0, Status: storage.ResultPassed, ResponseStatus: &code, ResponseTimeMS: 12.4,
				AssertionsPassed: []assertion.Diagnostic{{Type: assertion.TypeStatusCode}}},
			{RequestID: &reqB, Order: 1, Status: storage.ResultError, Error: "connection refused"},
		},
	}

	var buf bytes.Buffer
	printRun(&buf, c, run)
	out := buf.String()
	assert.Contains(t, out, "Orders (run #7)")
	assert.Contains(t, out, "list")
	assert.Contains(t, out, "POST")
	assert.Contains(t, out, "12ms")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "1 assertion(s) passed")
	assert.Contains(t, out, "FAILED  2 total, 1 passed, 0 failed, 1 errors")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
