package gitlab

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	gogitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/randalmurphal/sesh/internal/task"
	"github.com/randalmurphal/sesh/internal/taskhub"
)

func TestResolveToken(t *testing.T) {
	// Cannot use t.Parallel() — t.Setenv modifies process environment.
	t.Setenv("GITLAB_TOKEN", "")

	_, err := resolveToken(taskhub.Config{})
	assert.Error(t, err)

	t.Setenv("GITLAB_TOKEN", "glpat-test")
	token, err := resolveToken(taskhub.Config{})
	assert.NoError(t, err)
	assert.Equal(t, "glpat-test", token)
}

func TestMapIssue(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		issue *gogitlab.Issue
		want  task.Status
	}{
		{
			name:  "opened without labels is TODO",
			issue: &gogitlab.Issue{IID: 1, State: "opened"},
			want:  task.StatusTodo,
		},
		{
			name:  "in-review label",
			issue: &gogitlab.Issue{IID: 2, State: "opened", Labels: []string{labelInReview}},
			want:  task.StatusInReview,
		},
		{
			name:  "closed without status label is DONE",
			issue: &gogitlab.Issue{IID: 3, State: "closed"},
			want:  task.StatusDone,
		},
		{
			name:  "closed with closed label is CLOSED",
			issue: &gogitlab.Issue{IID: 4, State: "closed", Labels: []string{labelClosed}},
			want:  task.StatusClosed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapIssue(tt.issue).Status)
		})
	}

	rec := mapIssue(&gogitlab.Issue{
		IID:         7,
		State:       "opened",
		Title:       "Fix pagination",
		Description: "Spec: docs/paging.md",
		CreatedAt:   &now,
	})
	assert.Equal(t, "7", rec.ID)
	assert.Equal(t, "docs/paging.md", rec.SpecReference)
	assert.Equal(t, now, rec.CreatedAt)
}

func TestParseIssueIID(t *testing.T) {
	iid, err := parseIssueIID("15")
	assert.NoError(t, err)
	assert.Equal(t, int64(15), iid)

	_, err = parseIssueIID("abc")
	assert.Error(t, err)
}
