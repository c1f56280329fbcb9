package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/josepht96/scoutrun/internal/config"
	"github.com/josepht96/scoutrun/internal/executor"
	"github.com/josepht96/scoutrun/internal/runner"
	"github.com/josepht96/scoutrun/internal/storage"
)

var (
	colorGreen = lipgloss.Color("42")
	colorRed   = lipgloss.Color("196")
	colorAmber = lipgloss.Color("214")
	colorDim   = lipgloss.Color("240")

	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

// errRunFailed makes the process exit non-zero without repeating the table.
var errRunFailed = errors.New("run failed")

var (
	runCollection string
	runEnv        string
	runVars       []string
	runReportID   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a stored collection and print its results",
	Example: `  scoutrun run --collection orders-api --env staging
  scoutrun run --collection 3 --set user_id=42 --set token=abc`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runCollection, "collection", "", "Collection slug or id (required)")
	runCmd.Flags().StringVar(&runEnv, "env", "", "Environment name (default: first linked environment)")
	runCmd.Flags().StringArrayVar(&runVars, "set", nil, "Override a variable (key=value), repeatable")
	runCmd.Flags().StringVar(&runReportID, "report", "", "Automation report id to link results to")
	runCmd.MarkFlagRequired("collection")
}

func runRun(cmd *cobra.Command, args []string) error {
	overrides, err := parseOverrides(runVars)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, io.Discard)
	if cfg.LogLevel == "debug" {
		logger = newLogger(cfg, os.Stderr)
	}

	ctx := cmd.Context()
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	collection, err := findCollection(ctx, store, runCollection)
	if err != nil {
		return err
	}
	envID, err := chooseEnvironment(ctx, store, collection, runEnv)
	if err != nil {
		return err
	}

	transport, err := executor.NewHTTPExecutor(executor.HTTPConfig{
		MaxIdleConns:       cfg.HTTP.MaxIdleConns,
		InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify,
		ProxyURL:           cfg.HTTP.ProxyURL,
	})
	if err != nil {
		return err
	}
	r := runner.New(runner.Config{
		Store:            store,
		Transport:        transport,
		Logger:           logger,
		DefaultTimeoutMS: int(cfg.HTTP.DefaultTimeout / time.Millisecond),
	})

	triggeredBy := "cli"
	run, err := r.RunCollection(ctx, collection.ID, runner.Options{
		EnvironmentID:      envID,
		Overrides:          overrides,
		TriggeredBy:        &triggeredBy,
		AutomationReportID: runReportID,
	})
	if err != nil {
		return err
	}

	printRun(cmd.OutOrStdout(), collection, run)
	if run.Status != storage.RunPassed {
		return errRunFailed
	}
	return nil
}

// parseOverrides turns key=value pairs into variables. Values that parse as
// JSON keep their type, anything else is a string.
func parseOverrides(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --set %q: expected key=value", pair)
		}
		var value any = raw
		if json.Valid([]byte(raw)) {
			var decoded any
			if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
				value = decoded
			}
		}
		out[strings.TrimSpace(key)] = value
	}
	return out, nil
}

// findCollection resolves a slug, falling back to a numeric id.
func findCollection(ctx context.Context, store *storage.Storage, ref string) (*storage.Collection, error) {
	c, err := store.GetCollectionBySlug(ctx, ref)
	if err == nil || !errors.Is(err, storage.ErrNotFound) {
		return c, err
	}
	id, perr := strconv.ParseInt(ref, 10, 64)
	if perr != nil {
		return nil, err
	}
	return store.GetCollection(ctx, id)
}

func chooseEnvironment(ctx context.Context, store *storage.Storage, c *storage.Collection, name string) (*int64, error) {
	if name != "" {
		env, err := store.GetEnvironmentByName(ctx, name)
		if err != nil {
			return nil, err
		}
		return &env.ID, nil
	}
	if len(c.EnvironmentIDs) > 0 {
		id := c.EnvironmentIDs[0]
		return &id, nil
	}
	return nil, nil
}

// printRun writes the result table followed by a summary line.
func printRun(w io.Writer, c *storage.Collection, run *storage.Run) {
	names := make(map[int64]string, len(c.Requests))
	methods := make(map[int64]string, len(c.Requests))
	for _, req := range c.Requests {
		names[req.ID] = req.Name
		methods[req.ID] = req.Method
	}

	rows := make([][]string, 0, len(run.Results))
	for _, res := range run.Results {
		var name, method string
		if res.RequestID != nil {
			name, method = names[*res.RequestID], methods[*res.RequestID]
		}
		code := "-"
		if res.ResponseStatus != nil {
			code = strconv.Itoa(*res.ResponseStatus)
		}
		rows = append(rows, []string{
			strconv.Itoa(res.Order + 1),
			name,
			method,
			code,
			fmt.Sprintf("%.0fms", res.ResponseTimeMS),
			res.Status,
			resultDetail(res),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("#", "REQUEST", "METHOD", "CODE", "TIME", "STATUS", "DETAIL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 5 && row >= 0 && row < len(rows) {
				return cellStyle.Foreground(statusColor(rows[row][5]))
			}
			return cellStyle
		})

	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s (run #%d)", c.Name, run.ID)))
	fmt.Fprintln(w, t.Render())

	s := run.Summary
	summary := fmt.Sprintf("%s  %d total, %d passed, %d failed, %d errors",
		strings.ToUpper(run.Status), s.TotalRequests, s.PassedRequests, s.FailedRequests, s.ErrorRequests)
	fmt.Fprintln(w, lipgloss.NewStyle().Bold(true).Foreground(statusColor(run.Status)).Render(summary))
}

func resultDetail(res storage.Result) string {
	if res.Error != "" {
		return truncate(res.Error, 60)
	}
	if len(res.AssertionsFailed) > 0 {
		return truncate(res.AssertionsFailed[0].Message, 60)
	}
	if n := len(res.AssertionsPassed); n > 0 {
		return fmt.Sprintf("%d assertion(s) passed", n)
	}
	return ""
}

func statusColor(status string) lipgloss.Color {
	switch status {
	case storage.ResultPassed:
		return colorGreen
	case storage.ResultFailed:
		return colorRed
	default:
		return colorAmber
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
