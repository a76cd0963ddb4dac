// Package markdown implements the file-checklist task backend. Tasks
// live as checklist lines in markdown files; a trailing HTML comment
// carries the stable local id and optional spec reference.
package markdown

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
	"github.com/randalmurphal/sesh/internal/task"
	"github.com/randalmurphal/sesh/internal/taskhub"
	"github.com/randalmurphal/sesh/internal/util"
)

// Compile-time interface check.
var _ taskhub.Backend = (*Backend)(nil)

func init() {
	taskhub.RegisterBackend(taskhub.KindMarkdown, newBackend)
}

const (
	// DefaultPrefix is the conventional id prefix for checklist tasks.
	DefaultPrefix = "md"

	// DefaultGlob matches every markdown file under the backend root.
	DefaultGlob = "**/*.md"

	// defaultFile receives newly created tasks.
	defaultFile = "TASKS.md"
)

// Checklist glyphs are the backend's native status representation.
// Callers only ever see the canonical enum.
var glyphToStatus = map[string]task.Status{
	" ": task.StatusTodo,
	"~": task.StatusInProgress,
	"o": task.StatusInReview,
	"x": task.StatusDone,
	"!": task.StatusBlocked,
	"-": task.StatusClosed,
}

var statusToGlyph = map[task.Status]string{
	task.StatusTodo:       " ",
	task.StatusInProgress: "~",
	task.StatusInReview:   "o",
	task.StatusDone:       "x",
	task.StatusBlocked:    "!",
	task.StatusClosed:     "-",
}

// taskLine matches a managed checklist entry:
//
//	- [x] Fix the flaky watcher test <!-- task:12 spec:docs/watcher.md -->
var taskLine = regexp.MustCompile(
	`^(\s*)- \[(.)\] (.*?)\s*<!-- task:(\d+)(?: spec:(\S+))? -->\s*$`)

// Backend scans markdown checklists under a root directory.
type Backend struct {
	prefix string
	dir    string
	glob   string
	mu     sync.Mutex // serializes rewrites within this process
}

func newBackend(cfg taskhub.Config) (taskhub.Backend, error) {
	if cfg.Dir == "" {
		return nil, sesherr.ErrValidation("markdown task backend requires a directory", "")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	glob := cfg.Glob
	if glob == "" {
		glob = DefaultGlob
	}
	if !doublestar.ValidatePattern(glob) {
		return nil, sesherr.ErrValidation(
			fmt.Sprintf("invalid checklist glob %q", glob), "")
	}
	return &Backend{prefix: prefix, dir: cfg.Dir, glob: glob}, nil
}

// New creates a markdown backend directly, for callers that do not go
// through the registry.
func New(cfg taskhub.Config) (*Backend, error) {
	b, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	return b.(*Backend), nil
}

func (b *Backend) Kind() taskhub.BackendKind { return taskhub.KindMarkdown }
func (b *Backend) Prefix() string            { return b.prefix }

// entry is one parsed checklist line with enough position to rewrite it.
type entry struct {
	file    string // absolute path
	lineIdx int
	indent  string
	rec     task.Record
}

// files lists the checklist files matching the glob, sorted for
// deterministic ids and listings.
func (b *Backend) files() ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(b.dir), b.glob)
	if err != nil {
		return nil, sesherr.ErrStorage("scan checklist files", err)
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = filepath.Join(b.dir, m)
	}
	return out, nil
}

func (b *Backend) scan() ([]entry, error) {
	files, err := b.files()
	if err != nil {
		return nil, err
	}
	var entries []entry
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, sesherr.ErrStorage("read checklist "+file, err)
		}
		for i, line := range strings.Split(string(data), "\n") {
			m := taskLine.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			status, ok := glyphToStatus[m[2]]
			if !ok {
				// Unknown glyph: surface the task rather than hiding it.
				status = task.StatusTodo
			}
			entries = append(entries, entry{
				file:    file,
				lineIdx: i,
				indent:  m[1],
				rec: task.Record{
					ID:            m[4],
					Title:         m[3],
					Status:        status,
					SpecReference: m[5],
				},
			})
		}
	}
	return entries, nil
}

func (b *Backend) find(localID string) (*entry, error) {
	entries, err := b.scan()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].rec.ID == localID {
			return &entries[i], nil
		}
	}
	return nil, sesherr.ErrTaskNotFound(task.JoinID(b.prefix, localID))
}

// ListTasks returns all checklist tasks passing the filter.
func (b *Backend) ListTasks(ctx context.Context, filter task.Filter) ([]*task.Record, error) {
	entries, err := b.scan()
	if err != nil {
		return nil, err
	}
	var out []*task.Record
	for i := range entries {
		rec := entries[i].rec
		if filter.Matches(&rec) {
			out = append(out, &rec)
		}
	}
	return out, nil
}

// GetTask fetches a checklist task by local id.
func (b *Backend) GetTask(ctx context.Context, localID string) (*task.Record, error) {
	e, err := b.find(localID)
	if err != nil {
		return nil, err
	}
	rec := e.rec
	return &rec, nil
}

func formatLine(indent string, rec *task.Record) string {
	tag := "task:" + rec.ID
	if rec.SpecReference != "" {
		tag += " spec:" + rec.SpecReference
	}
	return fmt.Sprintf("%s- [%s] %s <!-- %s -->", indent, statusToGlyph[rec.Status], rec.Title, tag)
}

// rewriteLine replaces one line of a checklist file atomically.
func rewriteLine(file string, lineIdx int, newLine *string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return sesherr.ErrStorage("read checklist "+file, err)
	}
	lines := strings.Split(string(data), "\n")
	if lineIdx >= len(lines) {
		return sesherr.ErrStorage(
			fmt.Sprintf("checklist %s changed underneath: line %d is gone", file, lineIdx), nil)
	}
	if newLine == nil {
		lines = append(lines[:lineIdx], lines[lineIdx+1:]...)
	} else {
		lines[lineIdx] = *newLine
	}
	return util.AtomicWriteFile(file, []byte(strings.Join(lines, "\n")), 0o644)
}

// CreateTask appends a new checklist entry to the default tasks file,
// allocating the next numeric id across every scanned file.
func (b *Backend) CreateTask(ctx context.Context, spec task.Spec) (*task.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.scan()
	if err != nil {
		return nil, err
	}
	next := 1
	for _, e := range entries {
		if n, err := strconv.Atoi(e.rec.ID); err == nil && n >= next {
			next = n + 1
		}
	}

	rec := task.Record{
		ID:            strconv.Itoa(next),
		Title:         spec.Title,
		Status:        spec.Status,
		SpecReference: spec.SpecReference,
	}

	file := filepath.Join(b.dir, defaultFile)
	var content string
	if data, err := os.ReadFile(file); err == nil {
		content = strings.TrimRight(string(data), "\n") + "\n"
	} else if !os.IsNotExist(err) {
		return nil, sesherr.ErrStorage("read checklist "+file, err)
	}
	content += formatLine("", &rec) + "\n"
	if err := util.AtomicWriteFile(file, []byte(content), 0o644); err != nil {
		return nil, sesherr.ErrStorage("write checklist "+file, err)
	}
	return &rec, nil
}

// SetStatus rewrites the entry's glyph in place.
func (b *Backend) SetStatus(ctx context.Context, localID string, status task.Status) (*task.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.find(localID)
	if err != nil {
		return nil, err
	}
	e.rec.Status = status
	line := formatLine(e.indent, &e.rec)
	if err := rewriteLine(e.file, e.lineIdx, &line); err != nil {
		return nil, err
	}
	rec := e.rec
	return &rec, nil
}

// DeleteTask removes the entry's line from its file.
func (b *Backend) DeleteTask(ctx context.Context, localID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.find(localID)
	if err != nil {
		return err
	}
	return rewriteLine(e.file, e.lineIdx, nil)
}
