package github

import (
	"testing"

	gogithub "github.com/google/go-github/v82/github"
	"github.com/stretchr/testify/assert"

	"github.com/randalmurphal/sesh/internal/task"
	"github.com/randalmurphal/sesh/internal/taskhub"
)

func TestResolveToken(t *testing.T) {
	// Cannot use t.Parallel() — t.Setenv modifies process environment.
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("MY_GH_TOKEN", "")

	_, err := resolveToken(taskhub.Config{})
	assert.Error(t, err)

	t.Setenv("GITHUB_TOKEN", "ghp_test123")
	token, err := resolveToken(taskhub.Config{})
	assert.NoError(t, err)
	assert.Equal(t, "ghp_test123", token)

	t.Setenv("MY_GH_TOKEN", "custom_wins")
	token, err = resolveToken(taskhub.Config{TokenEnvVar: "MY_GH_TOKEN"})
	assert.NoError(t, err)
	assert.Equal(t, "custom_wins", token)
}

func TestMapIssue(t *testing.T) {
	tests := []struct {
		name  string
		issue *gogithub.Issue
		want  task.Status
	}{
		{
			name:  "open without labels is TODO",
			issue: &gogithub.Issue{Number: gogithub.Ptr(1), State: gogithub.Ptr("open")},
			want:  task.StatusTodo,
		},
		{
			name: "in-progress label",
			issue: &gogithub.Issue{
				Number: gogithub.Ptr(2),
				State:  gogithub.Ptr("open"),
				Labels: []*gogithub.Label{{Name: gogithub.Ptr(labelInProgress)}},
			},
			want: task.StatusInProgress,
		},
		{
			name: "blocked label",
			issue: &gogithub.Issue{
				Number: gogithub.Ptr(3),
				State:  gogithub.Ptr("open"),
				Labels: []*gogithub.Label{{Name: gogithub.Ptr(labelBlocked)}},
			},
			want: task.StatusBlocked,
		},
		{
			name: "closed completed is DONE",
			issue: &gogithub.Issue{
				Number:      gogithub.Ptr(4),
				State:       gogithub.Ptr("closed"),
				StateReason: gogithub.Ptr("completed"),
			},
			want: task.StatusDone,
		},
		{
			name: "closed not planned is CLOSED",
			issue: &gogithub.Issue{
				Number:      gogithub.Ptr(5),
				State:       gogithub.Ptr("closed"),
				StateReason: gogithub.Ptr("not_planned"),
			},
			want: task.StatusClosed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapIssue(tt.issue).Status)
		})
	}
}

func TestParseSpecReference(t *testing.T) {
	assert.Equal(t, "docs/auth.md",
		parseSpecReference("Some intro\nSpec: docs/auth.md\nMore text"))
	assert.Equal(t, "", parseSpecReference("No reference here"))
}

func TestParseIssueNumber(t *testing.T) {
	n, err := parseIssueNumber("42")
	assert.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = parseIssueNumber("PROJ-42")
	assert.Error(t, err)
}
