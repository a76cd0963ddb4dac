// Package jsonstore implements the structured-store task backend: a
// single JSON document with numeric local ids, written atomically.
package jsonstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
	"github.com/randalmurphal/sesh/internal/task"
	"github.com/randalmurphal/sesh/internal/taskhub"
	"github.com/randalmurphal/sesh/internal/util"
)

// Compile-time interface check.
var _ taskhub.Backend = (*Backend)(nil)

func init() {
	taskhub.RegisterBackend(taskhub.KindJSONStore, newBackend)
}

// DefaultPrefix is the conventional id prefix for structured-store tasks.
const DefaultPrefix = "json"

const formatVersion = 1

type document struct {
	Version int            `json:"version"`
	NextID  int            `json:"next_id"`
	Tasks   []*task.Record `json:"tasks"`
}

// Backend stores tasks in one JSON file.
type Backend struct {
	prefix string
	path   string
	mu     sync.Mutex
}

func newBackend(cfg taskhub.Config) (taskhub.Backend, error) {
	if cfg.Path == "" {
		return nil, sesherr.ErrValidation("jsonstore task backend requires a file path", "")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Backend{prefix: prefix, path: cfg.Path}, nil
}

// New creates a jsonstore backend directly, bypassing the registry.
func New(cfg taskhub.Config) (*Backend, error) {
	b, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	return b.(*Backend), nil
}

func (b *Backend) Kind() taskhub.BackendKind { return taskhub.KindJSONStore }
func (b *Backend) Prefix() string            { return b.prefix }

func (b *Backend) load() (*document, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &document{Version: formatVersion, NextID: 1}, nil
		}
		return nil, sesherr.ErrStorage("read task store", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, sesherr.ErrStorage(
			fmt.Sprintf("task store %s is not valid JSON", b.path), err)
	}
	if doc.NextID < 1 {
		doc.NextID = 1
	}
	return &doc, nil
}

func (b *Backend) save(doc *document) error {
	doc.Version = formatVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return sesherr.ErrStorage("encode task store", err)
	}
	data = append(data, '\n')
	if err := util.AtomicWriteFile(b.path, data, 0o644); err != nil {
		return sesherr.ErrStorage("write task store", err)
	}
	return nil
}

func (b *Backend) mutate(fn func(doc *document) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return b.save(doc)
}

// ListTasks returns all stored tasks passing the filter.
func (b *Backend) ListTasks(ctx context.Context, filter task.Filter) ([]*task.Record, error) {
	doc, err := b.load()
	if err != nil {
		return nil, err
	}
	var out []*task.Record
	for _, rec := range doc.Tasks {
		if filter.Matches(rec) {
			clone := *rec
			out = append(out, &clone)
		}
	}
	return out, nil
}

// GetTask fetches a task by local id.
func (b *Backend) GetTask(ctx context.Context, localID string) (*task.Record, error) {
	doc, err := b.load()
	if err != nil {
		return nil, err
	}
	for _, rec := range doc.Tasks {
		if rec.ID == localID {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, sesherr.ErrTaskNotFound(task.JoinID(b.prefix, localID))
}

// CreateTask allocates the next local id and appends the task.
func (b *Backend) CreateTask(ctx context.Context, spec task.Spec) (*task.Record, error) {
	now := time.Now().UTC()
	var created *task.Record
	err := b.mutate(func(doc *document) error {
		rec := &task.Record{
			ID:            strconv.Itoa(doc.NextID),
			Title:         spec.Title,
			Status:        spec.Status,
			SpecReference: spec.SpecReference,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		doc.NextID++
		doc.Tasks = append(doc.Tasks, rec)
		clone := *rec
		created = &clone
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// SetStatus writes the canonical status directly; JSON is the one
// backend whose native representation is the enum itself.
func (b *Backend) SetStatus(ctx context.Context, localID string, status task.Status) (*task.Record, error) {
	var updated *task.Record
	err := b.mutate(func(doc *document) error {
		for _, rec := range doc.Tasks {
			if rec.ID == localID {
				rec.Status = status
				rec.UpdatedAt = time.Now().UTC()
				clone := *rec
				updated = &clone
				return nil
			}
		}
		return sesherr.ErrTaskNotFound(task.JoinID(b.prefix, localID))
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTask removes a task by local id.
func (b *Backend) DeleteTask(ctx context.Context, localID string) error {
	return b.mutate(func(doc *document) error {
		for i, rec := range doc.Tasks {
			if rec.ID == localID {
				doc.Tasks = append(doc.Tasks[:i], doc.Tasks[i+1:]...)
				return nil
			}
		}
		return sesherr.ErrTaskNotFound(task.JoinID(b.prefix, localID))
	})
}
