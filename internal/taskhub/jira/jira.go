// Package jira implements the external-tracker task backend for Jira
// Cloud. Canonical statuses map onto workflow statuses via transitions.
package jira

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	v3 "github.com/ctreminiom/go-atlassian/v2/jira/v3"
	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
	"github.com/randalmurphal/sesh/internal/task"
	"github.com/randalmurphal/sesh/internal/taskhub"
)

// Compile-time interface check.
var _ taskhub.Backend = (*Backend)(nil)

func init() {
	taskhub.RegisterBackend(taskhub.KindJira, newBackend)
}

// DefaultPrefix is the conventional id prefix for Jira tasks.
const DefaultPrefix = "jira"

// statusNames maps the canonical enum to the Jira workflow status a
// transition must land on. These are the Jira Cloud defaults plus the
// common review/blocked additions.
var statusNames = map[task.Status]string{
	task.StatusTodo:       "To Do",
	task.StatusInProgress: "In Progress",
	task.StatusInReview:   "In Review",
	task.StatusDone:       "Done",
	task.StatusBlocked:    "Blocked",
	task.StatusClosed:     "Closed",
}

// searchFields keeps result payloads small.
var searchFields = []string{"summary", "status", "labels", "created", "updated"}

// Backend talks to one Jira project.
type Backend struct {
	jira    *v3.Client
	prefix  string
	project string
}

func newBackend(cfg taskhub.Config) (taskhub.Backend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("jira base URL is required")
	}
	if cfg.Email == "" {
		return nil, fmt.Errorf("jira email is required")
	}
	if cfg.Project == "" {
		return nil, fmt.Errorf("jira project key is required")
	}
	token, err := resolveToken(cfg)
	if err != nil {
		return nil, err
	}

	client, err := v3.New(&http.Client{Timeout: 30 * time.Second},
		strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("create jira client: %w", err)
	}
	client.Auth.SetBasicAuth(cfg.Email, token)
	client.Auth.SetUserAgent("sesh-task/1.0")

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Backend{jira: client, prefix: prefix, project: cfg.Project}, nil
}

// resolveToken gets the Jira API token from the environment.
func resolveToken(cfg taskhub.Config) (string, error) {
	envVar := "JIRA_API_TOKEN"
	if cfg.TokenEnvVar != "" {
		envVar = cfg.TokenEnvVar
	}
	token := os.Getenv(envVar)
	if token == "" {
		return "", fmt.Errorf("%s environment variable is not set (required for Jira API access)", envVar)
	}
	return token, nil
}

func (b *Backend) Kind() taskhub.BackendKind { return taskhub.KindJira }
func (b *Backend) Prefix() string            { return b.prefix }

// mapStatus converts a Jira status to the canonical enum: exact name
// match first, then the status category as a coarse fallback.
func mapStatus(status *models.StatusScheme) task.Status {
	if status == nil {
		return task.StatusTodo
	}
	name := strings.ToLower(status.Name)
	for canonical, jiraName := range statusNames {
		if name == strings.ToLower(jiraName) {
			return canonical
		}
	}
	if status.StatusCategory != nil {
		switch status.StatusCategory.Key {
		case "done":
			return task.StatusDone
		case "indeterminate":
			return task.StatusInProgress
		}
	}
	return task.StatusTodo
}

func mapIssue(issue *models.IssueScheme) *task.Record {
	if issue == nil || issue.Fields == nil {
		return &task.Record{}
	}
	rec := &task.Record{
		ID:     issue.Key,
		Title:  issue.Fields.Summary,
		Status: mapStatus(issue.Fields.Status),
	}
	// The spec reference rides on a prefixed label.
	for _, label := range issue.Fields.Labels {
		if strings.HasPrefix(label, "spec:") {
			rec.SpecReference = strings.TrimPrefix(label, "spec:")
		}
	}
	if issue.Fields.Created != nil {
		rec.CreatedAt = time.Time(*issue.Fields.Created)
	}
	if issue.Fields.Updated != nil {
		rec.UpdatedAt = time.Time(*issue.Fields.Updated)
	}
	return rec
}

// ListTasks searches the project with JQL, handling pagination the way
// the v3 search API expects.
func (b *Backend) ListTasks(ctx context.Context, filter task.Filter) ([]*task.Record, error) {
	jql := fmt.Sprintf("project = %q ORDER BY created ASC", b.project)

	var out []*task.Record
	nextPageToken := ""
	for {
		result, resp, err := b.jira.Issue.Search.SearchJQL(ctx, jql, searchFields, nil, 50, nextPageToken)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("jira search (status %d): %w", resp.StatusCode, err)
			}
			return nil, fmt.Errorf("jira search: %w", err)
		}
		for _, issue := range result.Issues {
			rec := mapIssue(issue)
			if filter.Matches(rec) {
				out = append(out, rec)
			}
		}
		if result.NextPageToken == "" || len(result.Issues) == 0 {
			break
		}
		nextPageToken = result.NextPageToken
	}
	return out, nil
}

// GetTask fetches one issue by key.
func (b *Backend) GetTask(ctx context.Context, localID string) (*task.Record, error) {
	issue, resp, err := b.jira.Issue.Get(ctx, localID, searchFields, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, sesherr.ErrTaskNotFound(task.JoinID(b.prefix, localID))
		}
		return nil, fmt.Errorf("get issue %s: %w", localID, err)
	}
	return mapIssue(issue), nil
}

// CreateTask creates a Task-type issue in the project.
func (b *Backend) CreateTask(ctx context.Context, spec task.Spec) (*task.Record, error) {
	fields := &models.IssueFieldsScheme{
		Summary:   spec.Title,
		Project:   &models.ProjectScheme{Key: b.project},
		IssueType: &models.IssueTypeScheme{Name: "Task"},
	}
	if spec.SpecReference != "" {
		fields.Labels = []string{"spec:" + spec.SpecReference}
	}

	created, resp, err := b.jira.Issue.Create(ctx, &models.IssueScheme{Fields: fields}, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("create issue (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("create issue: %w", err)
	}

	rec, err := b.GetTask(ctx, created.Key)
	if err != nil {
		return nil, err
	}
	// New issues start in the workflow's initial status; move when the
	// caller asked for something else.
	if spec.Status != "" && spec.Status != rec.Status {
		return b.SetStatus(ctx, created.Key, spec.Status)
	}
	return rec, nil
}

// SetStatus finds the workflow transition landing on the target status
// and executes it.
func (b *Backend) SetStatus(ctx context.Context, localID string, status task.Status) (*task.Record, error) {
	target, ok := statusNames[status]
	if !ok {
		return nil, sesherr.ErrValidation(
			fmt.Sprintf("no Jira status mapped for %s", status), "")
	}

	transitions, resp, err := b.jira.Issue.Transitions(ctx, localID)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, sesherr.ErrTaskNotFound(task.JoinID(b.prefix, localID))
		}
		return nil, fmt.Errorf("list transitions for %s: %w", localID, err)
	}

	var transitionID string
	for _, tr := range transitions.Transitions {
		if tr.To != nil && strings.EqualFold(tr.To.Name, target) {
			transitionID = tr.ID
			break
		}
	}
	if transitionID == "" {
		return nil, sesherr.ErrValidation(
			fmt.Sprintf("issue %s has no transition to %q", localID, target),
			"The project's workflow does not allow this move from the current status")
	}

	if _, err := b.jira.Issue.Move(ctx, localID, transitionID, nil); err != nil {
		return nil, fmt.Errorf("transition issue %s: %w", localID, err)
	}
	return b.GetTask(ctx, localID)
}

// DeleteTask deletes the issue.
func (b *Backend) DeleteTask(ctx context.Context, localID string) error {
	resp, err := b.jira.Issue.Delete(ctx, localID, false)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return sesherr.ErrTaskNotFound(task.JoinID(b.prefix, localID))
		}
		return fmt.Errorf("delete issue %s: %w", localID, err)
	}
	return nil
}
