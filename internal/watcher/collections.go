// Package watcher loads environment and collection definitions from a
// directory of YAML or JSON files and upserts them into storage.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/josepht96/scoutrun/internal/assertion"
	"github.com/josepht96/scoutrun/internal/runner"
	"github.com/josepht96/scoutrun/internal/storage"
	"github.com/josepht96/scoutrun/internal/transform"
)

// Definition kinds.
const (
	KindEnvironment = "environment"
	KindCollection  = "collection"
)

// ErrInvalidDefinition is wrapped by every rejected definition file.
var ErrInvalidDefinition = errors.New("invalid definition")

// Store is the persistence the importer writes to.
type Store interface {
	GetEnvironmentByName(ctx context.Context, name string) (*storage.Environment, error)
	CreateEnvironment(ctx context.Context, env *storage.Environment) error
	UpdateEnvironment(ctx context.Context, env *storage.Environment) error
	GetCollectionBySlug(ctx context.Context, slug string) (*storage.Collection, error)
	CreateCollection(ctx context.Context, c *storage.Collection) error
	UpdateCollection(ctx context.Context, c *storage.Collection) error
	CreateRequest(ctx context.Context, r *storage.Request) error
	DeleteRequest(ctx context.Context, id int64) error
}

// CollectionWatcher reads definition files from a directory
type CollectionWatcher struct {
	directory string
	logger    *slog.Logger
}

// NewCollectionWatcher creates a new collection watcher
func NewCollectionWatcher(directory string, logger *slog.Logger) *CollectionWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollectionWatcher{
		directory: directory,
		logger:    logger,
	}
}

// Definition is the content of one file.
type Definition struct {
	Kind        string `yaml:"kind"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Environment fields.
	Variables      map[string]any    `yaml:"variables"`
	DefaultHeaders map[string]string `yaml:"default_headers"`

	// Collection fields.
	Slug         string              `yaml:"slug"`
	Environments []string            `yaml:"environments"`
	Requests     []RequestDefinition `yaml:"requests"`

	// Path is the file the definition was read from.
	Path string `yaml:"-"`
}

// RequestDefinition is an inline request of a collection file.
type RequestDefinition struct {
	Name           string                `yaml:"name"`
	Method         string                `yaml:"method"`
	URL            string                `yaml:"url"`
	Order          *int                  `yaml:"order"`
	TimeoutMS      int                   `yaml:"timeout_ms"`
	Headers        map[string]string     `yaml:"headers"`
	QueryParams    map[string]any        `yaml:"query_params"`
	BodyType       string                `yaml:"body_type"`
	BodyJSON       any                   `yaml:"body_json"`
	BodyForm       map[string]string     `yaml:"body_form"`
	BodyRaw        string                `yaml:"body_raw"`
	AuthType       string                `yaml:"auth_type"`
	AuthBasic      storage.BasicAuth     `yaml:"auth_basic"`
	AuthBearer     string                `yaml:"auth_bearer"`
	BodyTransforms any                   `yaml:"body_transforms"`
	Assertions     []assertion.Assertion `yaml:"assertions"`
}

// ImportSummary counts what an import wrote.
type ImportSummary struct {
	Environments int      `json:"environments"`
	Collections  int      `json:"collections"`
	Requests     int      `json:"requests"`
	Skipped      []string `json:"skipped,omitempty"`
}

// GetDirectory returns the watched directory path
func (w *CollectionWatcher) GetDirectory() string {
	return w.directory
}

// Scan walks the directory for *.yaml, *.yml and *.json files and parses
// each into a Definition. Files that fail to parse are logged and listed in
// skipped.
func (w *CollectionWatcher) Scan() (defs []Definition, skipped []string, err error) {
	if _, err := os.Stat(w.directory); err != nil {
		return nil, nil, fmt.Errorf("directory does not exist: %s", w.directory)
	}

	err = filepath.WalkDir(w.directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != w.directory && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
		default:
			return nil
		}

		def, err := ParseFile(path)
		if err != nil {
			w.logger.Warn("skipping definition file", "path", path, "error", err)
			skipped = append(skipped, path)
			return nil
		}
		defs = append(defs, *def)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan directory: %w", err)
	}
	return defs, skipped, nil
}

// ParseFile reads a definition file. JSON files are parsed as YAML.
func ParseFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, err
	}
	def.Path = path
	return def, nil
}

// Parse decodes and validates one definition document.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	def.Kind = strings.ToLower(strings.TrimSpace(def.Kind))
	if strings.TrimSpace(def.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}

	switch def.Kind {
	case KindEnvironment:
		vars, err := jsonNormalize(def.Variables)
		if err != nil {
			return nil, fmt.Errorf("%w: variables: %v", ErrInvalidDefinition, err)
		}
		def.Variables, _ = vars.(map[string]any)
	case KindCollection:
		for i := range def.Requests {
			if def.Requests[i].Name == "" {
				return nil, fmt.Errorf("%w: requests[%d]: name is required", ErrInvalidDefinition, i)
			}
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidDefinition, def.Kind)
	}
	return &def, nil
}

// Import scans the directory and upserts every definition: environments by
// name first, then collections by slug. Collection requests are replaced.
func (w *CollectionWatcher) Import(ctx context.Context, store Store) (*ImportSummary, error) {
	defs, skipped, err := w.Scan()
	if err != nil {
		return nil, err
	}

	sort.SliceStable(defs, func(i, j int) bool {
		return defs[i].Kind == KindEnvironment && defs[j].Kind != KindEnvironment
	})

	summary := &ImportSummary{Skipped: skipped}
	for i := range defs {
		def := &defs[i]
		switch def.Kind {
		case KindEnvironment:
			if err := upsertEnvironment(ctx, store, def); err != nil {
				return summary, fmt.Errorf("%s: %w", def.Path, err)
			}
			summary.Environments++
		case KindCollection:
			n, err := upsertCollection(ctx, store, def)
			if err != nil {
				return summary, fmt.Errorf("%s: %w", def.Path, err)
			}
			summary.Collections++
			summary.Requests += n
		}
	}

	w.logger.Info("imported definitions",
		"directory", w.directory,
		"environments", summary.Environments,
		"collections", summary.Collections,
		"requests", summary.Requests,
		"skipped", len(summary.Skipped),
	)
	return summary, nil
}

func upsertEnvironment(ctx context.Context, store Store, def *Definition) error {
	env := &storage.Environment{
		Name:           def.Name,
		Description:    def.Description,
		Variables:      def.Variables,
		DefaultHeaders: def.DefaultHeaders,
	}
	existing, err := store.GetEnvironmentByName(ctx, def.Name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return store.CreateEnvironment(ctx, env)
	case err != nil:
		return err
	}
	env.ID = existing.ID
	return store.UpdateEnvironment(ctx, env)
}

// upsertCollection writes a collection and returns the number of requests.
func upsertCollection(ctx context.Context, store Store, def *Definition) (int, error) {
	requests, err := buildRequests(def.Requests)
	if err != nil {
		return 0, err
	}

	envIDs := make([]int64, 0, len(def.Environments))
	for _, name := range def.Environments {
		env, err := store.GetEnvironmentByName(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("environment %q: %w", name, err)
		}
		envIDs = append(envIDs, env.ID)
	}

	slug := def.Slug
	if slug == "" {
		slug = storage.Slugify(def.Name)
	}

	existing, err := store.GetCollectionBySlug(ctx, slug)
	if errors.Is(err, storage.ErrNotFound) {
		return len(requests), store.CreateCollection(ctx, &storage.Collection{
			Name:           def.Name,
			Slug:           slug,
			Description:    def.Description,
			EnvironmentIDs: envIDs,
			Requests:       requests,
		})
	}
	if err != nil {
		return 0, err
	}

	c := &storage.Collection{
		ID:             existing.ID,
		Name:           def.Name,
		Description:    def.Description,
		EnvironmentIDs: envIDs,
	}
	if err := store.UpdateCollection(ctx, c); err != nil {
		return 0, err
	}
	for _, r := range existing.Requests {
		if err := store.DeleteRequest(ctx, r.ID); err != nil {
			return 0, err
		}
	}
	for i := range requests {
		requests[i].CollectionID = existing.ID
		if err := store.CreateRequest(ctx, &requests[i]); err != nil {
			return 0, err
		}
	}
	return len(requests), nil
}

// buildRequests converts and validates inline request definitions.
func buildRequests(defs []RequestDefinition) ([]storage.Request, error) {
	requests := make([]storage.Request, 0, len(defs))
	for i, d := range defs {
		req := storage.Request{
			Name:       d.Name,
			Method:     strings.ToUpper(d.Method),
			URL:        d.URL,
			Order:      i,
			TimeoutMS:  d.TimeoutMS,
			Headers:    d.Headers,
			BodyType:   d.BodyType,
			BodyForm:   d.BodyForm,
			BodyRaw:    d.BodyRaw,
			AuthType:   d.AuthType,
			AuthBasic:  d.AuthBasic,
			AuthBearer: d.AuthBearer,
			Assertions: d.Assertions,
		}
		if req.Method == "" {
			req.Method = "GET"
		}
		if d.Order != nil {
			req.Order = *d.Order
		}

		params, err := jsonNormalize(d.QueryParams)
		if err != nil {
			return nil, fmt.Errorf("%w: request %q: query_params: %v", ErrInvalidDefinition, d.Name, err)
		}
		req.QueryParams, _ = params.(map[string]any)
		if req.BodyJSON, err = jsonNormalize(d.BodyJSON); err != nil {
			return nil, fmt.Errorf("%w: request %q: body_json: %v", ErrInvalidDefinition, d.Name, err)
		}

		if d.BodyTransforms != nil {
			raw, err := json.Marshal(d.BodyTransforms)
			if err != nil {
				return nil, fmt.Errorf("%w: request %q: body_transforms: %v", ErrInvalidDefinition, d.Name, err)
			}
			if req.BodyTransforms, err = transform.Parse(raw); err != nil {
				return nil, fmt.Errorf("request %q: %w", d.Name, err)
			}
		}

		if err := runner.ValidateRequest(&req); err != nil {
			return nil, fmt.Errorf("request %q: %w", d.Name, err)
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// jsonNormalize converts YAML-decoded values into the shapes encoding/json
// produces, so numbers become float64.
func jsonNormalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
