// Package github implements the external-tracker task backend for
// GitHub issues. Canonical statuses map onto issue state plus status
// labels.
package github

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	gogithub "github.com/google/go-github/v82/github"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
	"github.com/randalmurphal/sesh/internal/task"
	"github.com/randalmurphal/sesh/internal/taskhub"
)

// Compile-time interface check.
var _ taskhub.Backend = (*Backend)(nil)

func init() {
	taskhub.RegisterBackend(taskhub.KindGitHub, newBackend)
}

// DefaultPrefix is the conventional id prefix for GitHub issue tasks.
const DefaultPrefix = "gh"

// Status labels carried on open issues. Closed issues encode DONE and
// CLOSED through the state reason instead.
const (
	labelInProgress = "status:in-progress"
	labelInReview   = "status:in-review"
	labelBlocked    = "status:blocked"
)

var statusLabels = []string{labelInProgress, labelInReview, labelBlocked}

// specLinePrefix marks the spec reference inside an issue body.
const specLinePrefix = "Spec: "

// Backend talks to one repository's issues through go-github.
type Backend struct {
	client *gogithub.Client
	prefix string
	owner  string
	repo   string
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

	httpClient := &http.Client{
		Transport: &tokenTransport{token: token},
	}
	client := gogithub.NewClient(httpClient)

	// GitHub Enterprise: override base URL.
	if cfg.BaseURL != "" {
		baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
		var parseErr error
		client.BaseURL, parseErr = client.BaseURL.Parse(baseURL + "/api/v3/")
		if parseErr != nil {
			return nil, fmt.Errorf("parse base URL %q: %w", cfg.BaseURL, parseErr)
		}
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Backend{client: client, prefix: prefix, owner: owner, repo: repo}, nil
}

// resolveToken gets the GitHub API token from the environment.
func resolveToken(cfg taskhub.Config) (string, error) {
	envVar := "GITHUB_TOKEN"
	if cfg.TokenEnvVar != "" {
		envVar = cfg.TokenEnvVar
	}
	token := os.Getenv(envVar)
	if token == "" {
		return "", fmt.Errorf("%s environment variable is not set (required for GitHub API access)", envVar)
	}
	return token, nil
}

// tokenTransport adds an Authorization header to every request.
type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req2)
}

func (b *Backend) Kind() taskhub.BackendKind { return taskhub.KindGitHub }
func (b *Backend) Prefix() string            { return b.prefix }

// mapIssue converts a GitHub issue to the canonical record.
func mapIssue(issue *gogithub.Issue) *task.Record {
	status := task.StatusTodo
	if issue.GetState() == "closed" {
		if issue.GetStateReason() == "not_planned" {
			status = task.StatusClosed
		} else {
			status = task.StatusDone
		}
	} else {
		for _, label := range issue.Labels {
			switch label.GetName() {
			case labelInProgress:
				status = task.StatusInProgress
			case labelInReview:
				status = task.StatusInReview
			case labelBlocked:
				status = task.StatusBlocked
			}
		}
	}

	return &task.Record{
		ID:            strconv.Itoa(issue.GetNumber()),
		Title:         issue.GetTitle(),
		Status:        status,
		SpecReference: parseSpecReference(issue.GetBody()),
		CreatedAt:     issue.GetCreatedAt().Time,
		UpdatedAt:     issue.GetUpdatedAt().Time,
	}
}

func parseSpecReference(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, specLinePrefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, specLinePrefix))
		}
	}
	return ""
}

func parseIssueNumber(localID string) (int, error) {
	n, err := strconv.Atoi(localID)
	if err != nil {
		return 0, sesherr.ErrValidation(
			fmt.Sprintf("invalid GitHub issue id %q", localID),
			"GitHub task ids are issue numbers")
	}
	return n, nil
}

// ListTasks lists issues in the repository, skipping pull requests.
func (b *Backend) ListTasks(ctx context.Context, filter task.Filter) ([]*task.Record, error) {
	opts := &gogithub.IssueListByRepoOptions{
		State:       "all",
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}

	var out []*task.Record
	for {
		issues, resp, err := b.client.Issues.ListByRepo(ctx, b.owner, b.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("list issues: %w", err)
		}
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			rec := mapIssue(issue)
			if filter.Matches(rec) {
				out = append(out, rec)
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.ListOptions.Page = resp.NextPage
	}
	return out, nil
}

// GetTask fetches one issue by number.
func (b *Backend) GetTask(ctx context.Context, localID string) (*task.Record, error) {
	number, err := parseIssueNumber(localID)
	if err != nil {
		return nil, err
	}
	issue, resp, err := b.client.Issues.Get(ctx, b.owner, b.repo, number)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, sesherr.ErrTaskNotFound(task.JoinID(b.prefix, localID))
		}
		return nil, fmt.Errorf("get issue %d: %w", number, err)
	}
	return mapIssue(issue), nil
}

// CreateTask opens a new issue.
func (b *Backend) CreateTask(ctx context.Context, spec task.Spec) (*task.Record, error) {
	req := &gogithub.IssueRequest{
		Title: gogithub.Ptr(spec.Title),
	}
	if spec.SpecReference != "" {
		req.Body = gogithub.Ptr(specLinePrefix + spec.SpecReference)
	}
	if labels := labelsFor(spec.Status); len(labels) > 0 {
		req.Labels = &labels
	}

	issue, _, err := b.client.Issues.Create(ctx, b.owner, b.repo, req)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	return mapIssue(issue), nil
}

func labelsFor(status task.Status) []string {
	switch status {
	case task.StatusInProgress:
		return []string{labelInProgress}
	case task.StatusInReview:
		return []string{labelInReview}
	case task.StatusBlocked:
		return []string{labelBlocked}
	default:
		return nil
	}
}

// SetStatus maps the canonical status onto issue state and labels:
// DONE closes as completed, CLOSED closes as not planned, everything
// else (re)opens the issue and swaps the status label.
func (b *Backend) SetStatus(ctx context.Context, localID string, status task.Status) (*task.Record, error) {
	number, err := parseIssueNumber(localID)
	if err != nil {
		return nil, err
	}

	current, err := b.GetTask(ctx, localID)
	if err != nil {
		return nil, err
	}

	req := &gogithub.IssueRequest{}
	switch status {
	case task.StatusDone:
		req.State = gogithub.Ptr("closed")
		req.StateReason = gogithub.Ptr("completed")
	case task.StatusClosed:
		req.State = gogithub.Ptr("closed")
		req.StateReason = gogithub.Ptr("not_planned")
	default:
		if current.Status == task.StatusDone || current.Status == task.StatusClosed {
			req.State = gogithub.Ptr("open")
		}
	}

	if _, _, err := b.client.Issues.Edit(ctx, b.owner, b.repo, number, req); err != nil {
		return nil, fmt.Errorf("update issue %d: %w", number, err)
	}

	// Swap status labels. Best-effort removal: a label that was never
	// attached returns 404.
	for _, label := range statusLabels {
		_, _ = b.client.Issues.RemoveLabelForIssue(ctx, b.owner, b.repo, number, label)
	}
	if labels := labelsFor(status); len(labels) > 0 {
		if _, _, err := b.client.Issues.AddLabelsToIssue(ctx, b.owner, b.repo, number, labels); err != nil {
			return nil, fmt.Errorf("label issue %d: %w", number, err)
		}
	}

	return b.GetTask(ctx, localID)
}

// DeleteTask closes the issue as not planned: the REST API has no true
// issue delete.
func (b *Backend) DeleteTask(ctx context.Context, localID string) error {
	number, err := parseIssueNumber(localID)
	if err != nil {
		return err
	}
	req := &gogithub.IssueRequest{
		State:       gogithub.Ptr("closed"),
		StateReason: gogithub.Ptr("not_planned"),
	}
	if _, _, err := b.client.Issues.Edit(ctx, b.owner, b.repo, number, req); err != nil {
		return fmt.Errorf("close issue %d: %w", number, err)
	}
	return nil
}
