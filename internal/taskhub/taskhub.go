// Package taskhub routes task operations to namespaced task backends.
//
// Each backend registers a fixed prefix (md, json, gh, gl, jira) and the
// router dispatches purely by exact prefix match on the task id. Backend
// identity is never inferred from id shape or content: an id without a
// registered prefix goes to the configured default backend, full stop.
package taskhub

import (
	"context"
	"fmt"
	"sort"
	"sync"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
	"github.com/randalmurphal/sesh/internal/task"
)

// BackendKind identifies a backend implementation.
type BackendKind string

const (
	KindMarkdown  BackendKind = "markdown"
	KindJSONStore BackendKind = "jsonstore"
	KindGitHub    BackendKind = "github"
	KindGitLab    BackendKind = "gitlab"
	KindJira      BackendKind = "jira"
)

// Backend is implemented by every task backend. Backends deal in
// backend-local ids and canonical statuses; the router owns the
// prefix namespace.
type Backend interface {
	// Kind reports the implementation behind this backend.
	Kind() BackendKind

	// Prefix is the fixed id prefix this backend registered under.
	Prefix() string

	// ListTasks returns all tasks passing the filter, with local ids.
	ListTasks(ctx context.Context, filter task.Filter) ([]*task.Record, error)

	// GetTask fetches one task by local id. Missing tasks are
	// TASK_NOT_FOUND.
	GetTask(ctx context.Context, localID string) (*task.Record, error)

	// CreateTask creates a task and returns it with its allocated local id.
	CreateTask(ctx context.Context, spec task.Spec) (*task.Record, error)

	// SetStatus writes the canonical status, translated to the backend's
	// native representation. Transition legality is the router's job.
	SetStatus(ctx context.Context, localID string, status task.Status) (*task.Record, error)

	// DeleteTask removes a task. Tracker-style backends close instead of
	// destroying when their API has no true delete.
	DeleteTask(ctx context.Context, localID string) error
}

// Config parameterizes backend construction. Fields are used or ignored
// per kind.
type Config struct {
	Prefix string `yaml:"prefix"` // id prefix; defaults per kind

	// Markdown backend
	Dir  string `yaml:"dir,omitempty"`  // root to scan for checklists
	Glob string `yaml:"glob,omitempty"` // doublestar pattern, default "**/*.md"

	// JSON store backend
	Path string `yaml:"path,omitempty"`

	// Tracker backends
	WorkDir     string `yaml:"-"`                       // repo dir for remote detection
	BaseURL     string `yaml:"base_url,omitempty"`      // self-hosted instance
	TokenEnvVar string `yaml:"token_env_var,omitempty"` // overrides the default env var
	Email       string `yaml:"email,omitempty"`         // jira basic auth
	Project     string `yaml:"project,omitempty"`       // jira project key
}

// NewBackendFunc constructs a backend for a kind. Registered at init
// time by the backend packages to avoid import cycles.
type NewBackendFunc func(cfg Config) (Backend, error)

var (
	constructorsMu sync.RWMutex
	constructors   = map[BackendKind]NewBackendFunc{}
)

// RegisterBackend registers a backend constructor. Called from init()
// in the backend packages.
func RegisterBackend(kind BackendKind, constructor NewBackendFunc) {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	constructors[kind] = constructor
}

// NewBackend constructs a backend of the given kind.
func NewBackend(kind BackendKind, cfg Config) (Backend, error) {
	constructorsMu.RLock()
	constructor, ok := constructors[kind]
	constructorsMu.RUnlock()
	if !ok {
		return nil, sesherr.ErrValidation(
			fmt.Sprintf("no task backend registered for kind %q", kind),
			"Available kinds: markdown, jsonstore, github, gitlab, jira")
	}
	return constructor(cfg)
}

// Router dispatches task operations by registered prefix.
type Router struct {
	mu            sync.RWMutex
	backends      map[string]Backend
	defaultPrefix string
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{backends: map[string]Backend{}}
}

// Register adds a backend under its declared prefix. Duplicate prefixes
// are a hard error: silent shadowing would make dispatch ambiguous.
func (r *Router) Register(b Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := b.Prefix()
	if prefix == "" {
		return sesherr.ErrValidation("task backend has an empty prefix", "")
	}
	if _, exists := r.backends[prefix]; exists {
		return sesherr.ErrValidation(
			fmt.Sprintf("task backend prefix %q is already registered", prefix), "")
	}
	r.backends[prefix] = b
	if r.defaultPrefix == "" {
		r.defaultPrefix = prefix
	}
	return nil
}

// SetDefault names the backend that receives ids without a registered
// prefix.
func (r *Router) SetDefault(prefix string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[prefix]; !ok {
		return sesherr.ErrValidation(
			fmt.Sprintf("default task backend %q is not registered", prefix), "")
	}
	r.defaultPrefix = prefix
	return nil
}

// Prefixes returns all registered prefixes, sorted.
func (r *Router) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.backends))
	for p := range r.backends {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Resolve maps a task id to its backend and local id. A prefixed id
// with an unregistered prefix is treated as unprefixed and goes to the
// default backend with the full id as the local id.
func (r *Router) Resolve(id string) (Backend, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id == "" {
		return nil, "", sesherr.ErrValidation("task id is empty", "")
	}
	prefix, localID := task.SplitID(id)
	if prefix != "" {
		if b, ok := r.backends[prefix]; ok {
			return b, localID, nil
		}
	}
	if r.defaultPrefix == "" {
		return nil, "", sesherr.ErrValidation(
			fmt.Sprintf("no backend for task id %q and no default backend configured", id), "")
	}
	return r.backends[r.defaultPrefix], id, nil
}

// namespace rewrites a backend-local record id into the global form.
func namespace(b Backend, rec *task.Record) *task.Record {
	out := *rec
	out.ID = task.JoinID(b.Prefix(), rec.ID)
	return &out
}

// GetTask fetches a task by global id.
func (r *Router) GetTask(ctx context.Context, id string) (*task.Record, error) {
	b, localID, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}
	rec, err := b.GetTask(ctx, localID)
	if err != nil {
		return nil, err
	}
	return namespace(b, rec), nil
}

// ListTasks aggregates tasks across backends, or a single backend when
// the filter names one. Results are ordered by global id.
func (r *Router) ListTasks(ctx context.Context, filter task.Filter) ([]*task.Record, error) {
	r.mu.RLock()
	var targets []Backend
	if filter.Backend != "" {
		b, ok := r.backends[filter.Backend]
		if !ok {
			r.mu.RUnlock()
			return nil, sesherr.ErrValidation(
				fmt.Sprintf("unknown task backend %q", filter.Backend), "")
		}
		targets = []Backend{b}
	} else {
		for _, b := range r.backends {
			targets = append(targets, b)
		}
	}
	r.mu.RUnlock()

	var all []*task.Record
	for _, b := range targets {
		recs, err := b.ListTasks(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("list tasks from %s: %w", b.Prefix(), err)
		}
		for _, rec := range recs {
			all = append(all, namespace(b, rec))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

// CreateTask creates a task in the named backend (default backend when
// prefix is empty).
func (r *Router) CreateTask(ctx context.Context, prefix string, spec task.Spec) (*task.Record, error) {
	r.mu.RLock()
	if prefix == "" {
		prefix = r.defaultPrefix
	}
	b, ok := r.backends[prefix]
	r.mu.RUnlock()
	if !ok {
		return nil, sesherr.ErrValidation(
			fmt.Sprintf("unknown task backend %q", prefix), "")
	}

	if spec.Title == "" {
		return nil, sesherr.ErrValidation("task title is empty", "")
	}
	if spec.Status == "" {
		spec.Status = task.StatusTodo
	}
	if !task.IsValidStatus(spec.Status) {
		return nil, sesherr.ErrValidation(
			fmt.Sprintf("invalid task status %q", spec.Status), "")
	}

	rec, err := b.CreateTask(ctx, spec)
	if err != nil {
		return nil, err
	}
	return namespace(b, rec), nil
}

// SetStatus moves a task to a new status. The forward-only rule is
// enforced here, uniformly across backends; force overrides it.
func (r *Router) SetStatus(ctx context.Context, id string, status task.Status, force bool) (*task.Record, error) {
	if !task.IsValidStatus(status) {
		return nil, sesherr.ErrValidation(
			fmt.Sprintf("invalid task status %q", status), "")
	}
	b, localID, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}

	current, err := b.GetTask(ctx, localID)
	if err != nil {
		return nil, err
	}
	if !force && !task.CanTransition(current.Status, status) {
		return nil, sesherr.ErrValidation(
			fmt.Sprintf("task %s cannot move from %s to %s", id, current.Status, status),
			"Status moves forward only (TODO, IN-PROGRESS, IN-REVIEW, DONE); pass --force to override")
	}

	rec, err := b.SetStatus(ctx, localID, status)
	if err != nil {
		return nil, err
	}
	return namespace(b, rec), nil
}

// DeleteTask removes a task by global id.
func (r *Router) DeleteTask(ctx context.Context, id string) error {
	b, localID, err := r.Resolve(id)
	if err != nil {
		return err
	}
	return b.DeleteTask(ctx, localID)
}
