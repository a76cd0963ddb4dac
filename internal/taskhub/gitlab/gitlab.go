// Package gitlab implements the external-tracker task backend for
// GitLab issues. Canonical statuses map onto issue state plus scoped
// labels; GitLab has no close reason, so CLOSED carries a label.
package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	gogitlab "gitlab.com/gitlab-org/api/client-go"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
	"github.com/randalmurphal/sesh/internal/task"
	"github.com/randalmurphal/sesh/internal/taskhub"
)

// Compile-time interface check.
var _ taskhub.Backend = (*Backend)(nil)

func init() {
	taskhub.RegisterBackend(taskhub.KindGitLab, newBackend)
}

// DefaultPrefix is the conventional id prefix for GitLab issue tasks.
const DefaultPrefix = "gl"

const (
	labelInProgress = "status:in-progress"
	labelInReview   = "status:in-review"
	labelBlocked    = "status:blocked"
	labelClosed     = "status:closed" // distinguishes CLOSED from DONE
)

var statusLabels = []string{labelInProgress, labelInReview, labelBlocked, labelClosed}

const specLinePrefix = "Spec: "

// Backend talks to one project's issues through the GitLab client.
type Backend struct {
	client    *gogitlab.Client
	prefix    string
	projectID string // full path "owner/repo" or "group/subgroup/repo"
}

func newBackend(cfg taskhub.Config) (taskhub.Backend, error) {
	token, err := resolveToken(cfg)
	if err != nil {
		return nil, err
	}

	remoteURL, err := taskhub.RemoteURL(cfg.WorkDir)
	if err != nil {
		return nil, err
	}
	owner, repo := taskhub.ParseOwnerRepo(remoteURL)
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("could not parse owner/repo from remote URL: %s", remoteURL)
	}

	var client *gogitlab.Client
	if cfg.BaseURL != "" {
		baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
		client, err = gogitlab.NewClient(token, gogitlab.WithBaseURL(baseURL+"/api/v4"))
	} else {
		client, err = gogitlab.NewClient(token)
	}
	if err != nil {
		return nil, fmt.Errorf("create GitLab client: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Backend{client: client, prefix: prefix, projectID: owner + "/" + repo}, nil
}

// resolveToken gets the GitLab API token from the environment.
func resolveToken(cfg taskhub.Config) (string, error) {
	envVar := "GITLAB_TOKEN"
	if cfg.TokenEnvVar != "" {
		envVar = cfg.TokenEnvVar
	}
	token := os.Getenv(envVar)
	if token == "" {
		return "", fmt.Errorf("%s environment variable is not set (required for GitLab API access)", envVar)
	}
	return token, nil
}

func (b *Backend) Kind() taskhub.BackendKind { return taskhub.KindGitLab }
func (b *Backend) Prefix() string            { return b.prefix }

func mapIssue(issue *gogitlab.Issue) *task.Record {
	hasLabel := func(name string) bool {
		for _, l := range issue.Labels {
			if l == name {
				return true
			}
		}
		return false
	}

	status := task.StatusTodo
	if issue.State == "closed" {
		if hasLabel(labelClosed) {
			status = task.StatusClosed
		} else {
			status = task.StatusDone
		}
	} else {
		switch {
		case hasLabel(labelInProgress):
			status = task.StatusInProgress
		case hasLabel(labelInReview):
			status = task.StatusInReview
		case hasLabel(labelBlocked):
			status = task.StatusBlocked
		}
	}

	rec := &task.Record{
		ID:            strconv.FormatInt(int64(issue.IID), 10),
		Title:         issue.Title,
		Status:        status,
		SpecReference: parseSpecReference(issue.Description),
	}
	if issue.CreatedAt != nil {
		rec.CreatedAt = *issue.CreatedAt
	}
	if issue.UpdatedAt != nil {
		rec.UpdatedAt = *issue.UpdatedAt
	}
	return rec
}

func parseSpecReference(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, specLinePrefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, specLinePrefix))
		}
	}
	return ""
}

func parseIssueIID(localID string) (int64, error) {
	n, err := strconv.ParseInt(localID, 10, 64)
	if err != nil {
		return 0, sesherr.ErrValidation(
			fmt.Sprintf("invalid GitLab issue id %q", localID),
			"GitLab task ids are issue IIDs")
	}
	return n, nil
}

// ListTasks lists the project's issues.
func (b *Backend) ListTasks(ctx context.Context, filter task.Filter) ([]*task.Record, error) {
	opts := &gogitlab.ListProjectIssuesOptions{
		ListOptions: gogitlab.ListOptions{PerPage: 100},
	}

	var out []*task.Record
	for {
		issues, resp, err := b.client.Issues.ListProjectIssues(b.projectID, opts, gogitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list issues: %w", err)
		}
		for _, issue := range issues {
			rec := mapIssue(issue)
			if filter.Matches(rec) {
				out = append(out, rec)
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// GetTask fetches one issue by IID.
func (b *Backend) GetTask(ctx context.Context, localID string) (*task.Record, error) {
	iid, err := parseIssueIID(localID)
	if err != nil {
		return nil, err
	}
	issue, resp, err := b.client.Issues.GetIssue(b.projectID, iid, gogitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, sesherr.ErrTaskNotFound(task.JoinID(b.prefix, localID))
		}
		return nil, fmt.Errorf("get issue %d: %w", iid, err)
	}
	return mapIssue(issue), nil
}

func labelsFor(status task.Status) gogitlab.LabelOptions {
	switch status {
	case task.StatusInProgress:
		return gogitlab.LabelOptions{labelInProgress}
	case task.StatusInReview:
		return gogitlab.LabelOptions{labelInReview}
	case task.StatusBlocked:
		return gogitlab.LabelOptions{labelBlocked}
	case task.StatusClosed:
		return gogitlab.LabelOptions{labelClosed}
	default:
		return nil
	}
}

// CreateTask opens a new issue.
func (b *Backend) CreateTask(ctx context.Context, spec task.Spec) (*task.Record, error) {
	opts := &gogitlab.CreateIssueOptions{
		Title: gogitlab.Ptr(spec.Title),
	}
	if spec.SpecReference != "" {
		opts.Description = gogitlab.Ptr(specLinePrefix + spec.SpecReference)
	}
	if labels := labelsFor(spec.Status); len(labels) > 0 {
		opts.Labels = &labels
	}

	issue, _, err := b.client.Issues.CreateIssue(b.projectID, opts, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	return mapIssue(issue), nil
}

// SetStatus maps the canonical status onto issue state and labels.
func (b *Backend) SetStatus(ctx context.Context, localID string, status task.Status) (*task.Record, error) {
	iid, err := parseIssueIID(localID)
	if err != nil {
		return nil, err
	}

	current, err := b.GetTask(ctx, localID)
	if err != nil {
		return nil, err
	}

	removeLabels := gogitlab.LabelOptions(statusLabels)
	opts := &gogitlab.UpdateIssueOptions{
		RemoveLabels: &removeLabels,
	}
	if labels := labelsFor(status); len(labels) > 0 {
		opts.AddLabels = &labels
	}

	switch status {
	case task.StatusDone, task.StatusClosed:
		opts.StateEvent = gogitlab.Ptr("close")
	default:
		if current.Status == task.StatusDone || current.Status == task.StatusClosed {
			opts.StateEvent = gogitlab.Ptr("reopen")
		}
	}

	if _, _, err := b.client.Issues.UpdateIssue(b.projectID, iid, opts, gogitlab.WithContext(ctx)); err != nil {
		return nil, fmt.Errorf("update issue %d: %w", iid, err)
	}
	return b.GetTask(ctx, localID)
}

// DeleteTask deletes the issue from the project.
func (b *Backend) DeleteTask(ctx context.Context, localID string) error {
	iid, err := parseIssueIID(localID)
	if err != nil {
		return err
	}
	resp, err := b.client.Issues.DeleteIssue(b.projectID, iid, gogitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return sesherr.ErrTaskNotFound(task.JoinID(b.prefix, localID))
		}
		return fmt.Errorf("delete issue %d: %w", iid, err)
	}
	return nil
}
