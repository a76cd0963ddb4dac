// Package task defines the canonical task model consumed by the task
// backend router and the workflow engine.
package task

import (
	"fmt"
	"strings"
	"time"
)

// IDSeparator joins a backend prefix and a backend-local id into a
// globally unique task id, e.g. "md#12".
const IDSeparator = "#"

// Status represents the canonical task state. Every backend maps its
// native representation (checklist glyph, JSON field, tracker label) to
// and from these values; callers never see a native form.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN-PROGRESS"
	StatusInReview   Status = "IN-REVIEW"
	StatusDone       Status = "DONE"
	StatusBlocked    Status = "BLOCKED"
	StatusClosed     Status = "CLOSED"
)

// ValidStatuses returns all valid status values.
func ValidStatuses() []Status {
	return []Status{StatusTodo, StatusInProgress, StatusInReview, StatusDone, StatusBlocked, StatusClosed}
}

// IsValidStatus returns true if s is a valid status value.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusInReview, StatusDone, StatusBlocked, StatusClosed:
		return true
	default:
		return false
	}
}

// ParseStatus parses a status string case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !IsValidStatus(st) {
		return "", fmt.Errorf("unknown task status %q", s)
	}
	return st, nil
}

// forwardOrder positions the forward-only chain TODO → IN-PROGRESS →
// IN-REVIEW → DONE. BLOCKED and CLOSED sit outside the chain and are
// reachable from anywhere (and back, for BLOCKED).
var forwardOrder = map[Status]int{
	StatusTodo:       0,
	StatusInProgress: 1,
	StatusInReview:   2,
	StatusDone:       3,
}

// CanTransition reports whether moving from to next is allowed without an
// override. Within the forward chain only forward (or same-position)
// moves are allowed. BLOCKED and CLOSED are always reachable; leaving
// BLOCKED re-enters the chain at any position.
func CanTransition(from, next Status) bool {
	if from == next {
		return true
	}
	if next == StatusBlocked || next == StatusClosed {
		return true
	}
	if from == StatusBlocked {
		return true
	}
	if from == StatusClosed {
		return false
	}
	fi, fok := forwardOrder[from]
	ni, nok := forwardOrder[next]
	if !fok || !nok {
		return false
	}
	return ni > fi
}

// Record is the canonical task record. ID is namespaced by the owning
// backend's prefix.
type Record struct {
	ID            string    `json:"id" yaml:"id"`
	Title         string    `json:"title" yaml:"title"`
	Status        Status    `json:"status" yaml:"status"`
	SpecReference string    `json:"spec_reference,omitempty" yaml:"spec_reference,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Spec describes a task to be created. The router fills in the backend
// prefix; backends allocate the local id.
type Spec struct {
	Title         string
	SpecReference string
	Status        Status // defaults to TODO when empty
}

// JoinID builds a namespaced task id from a backend prefix and local id.
func JoinID(prefix, localID string) string {
	return prefix + IDSeparator + localID
}

// SplitID splits a namespaced task id into prefix and local id. The
// prefix is empty when the id carries no separator, which routes the id
// to the configured default backend.
func SplitID(id string) (prefix, localID string) {
	idx := strings.Index(id, IDSeparator)
	if idx < 0 {
		return "", id
	}
	return id[:idx], id[idx+len(IDSeparator):]
}

// Filter narrows ListTasks results.
type Filter struct {
	Status  Status // empty matches all
	Backend string // backend prefix; empty matches all
}

// Matches reports whether the record passes the filter. Backend matching
// is handled by the router; this checks record-level fields only.
func (f Filter) Matches(r *Record) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}
