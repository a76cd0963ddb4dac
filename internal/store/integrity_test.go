package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sesh/internal/session"
)

func TestIntegrity_CleanStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	workspaces := filepath.Join(dir, "workspaces")
	st := newFileStoreAt(t, dir)

	rec := newTestRecord("healthy")
	rec.WorkspacePath = filepath.Join(workspaces, "healthy")
	require.NoError(t, os.MkdirAll(rec.WorkspacePath, 0o755))
	require.NoError(t, st.Create(ctx, rec))

	report, err := NewIntegrityChecker(st, workspaces, false).Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 1, report.Checked)
}

func TestIntegrity_DanglingRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st := newFileStoreAt(t, dir)

	rec := newTestRecord("dangling")
	rec.WorkspacePath = filepath.Join(dir, "workspaces", "dangling") // never created
	require.NoError(t, st.Create(ctx, rec))

	report, err := NewIntegrityChecker(st, filepath.Join(dir, "workspaces"), false).Check(ctx)
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, IssueDanglingRecord, report.Issues[0].Kind)
	assert.False(t, report.Issues[0].Fixed)

	// Record still present without fix mode.
	_, err = st.Get(ctx, "dangling")
	require.NoError(t, err)
}

func TestIntegrity_DanglingRecordFixed(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st := newFileStoreAt(t, dir)

	rec := newTestRecord("dangling")
	rec.WorkspacePath = filepath.Join(dir, "workspaces", "dangling")
	require.NoError(t, st.Create(ctx, rec))

	report, err := NewIntegrityChecker(st, filepath.Join(dir, "workspaces"), true).Check(ctx)
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	assert.True(t, report.Issues[0].Fixed)

	recs, err := st.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestIntegrity_OrphanWorkspace(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	workspaces := filepath.Join(dir, "workspaces")
	st := newFileStoreAt(t, dir)

	orphan := filepath.Join(workspaces, "forgotten")
	require.NoError(t, os.MkdirAll(orphan, 0o755))

	// Without fix the orphan is reported and left alone.
	report, err := NewIntegrityChecker(st, workspaces, false).Check(ctx)
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, IssueOrphanWorkspace, report.Issues[0].Kind)
	assert.False(t, report.Issues[0].Fixed)
	assert.DirExists(t, orphan)

	// Fix mode removes the directory.
	report, err = NewIntegrityChecker(st, workspaces, true).Check(ctx)
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	assert.True(t, report.Issues[0].Fixed)
	assert.NoDirExists(t, orphan)

	// A second run finds nothing left to do.
	report, err = NewIntegrityChecker(st, workspaces, true).Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestIntegrity_NormalizesMalformedPRFields(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	workspaces := filepath.Join(dir, "workspaces")
	st := newFileStoreAt(t, dir)

	makeRec := func(name string) *session.Record {
		rec := newTestRecord(name)
		rec.WorkspacePath = filepath.Join(workspaces, name)
		require.NoError(t, os.MkdirAll(rec.WorkspacePath, 0o755))
		return rec
	}

	strayBranch := makeRec("stray-branch")
	strayBranch.PRBranchName = "pr/stray-branch" // state still none
	noBranch := makeRec("no-branch")
	noBranch.PRState = session.PRStateApproved // branch never recorded
	unknownState := makeRec("unknown-state")
	unknownState.PRState = "shipped"
	unknownState.PRBranchName = "pr/unknown-state"

	// ReplaceAll bypasses validation, standing in for a hand-edited file.
	require.NoError(t, st.ReplaceAll(ctx,
		[]*session.Record{strayBranch, noBranch, unknownState}))

	report, err := NewIntegrityChecker(st, workspaces, true).Check(ctx)
	require.NoError(t, err)
	require.Len(t, report.Issues, 3)
	for _, issue := range report.Issues {
		assert.Equal(t, IssueInvalidRecord, issue.Kind)
		assert.True(t, issue.Fixed, "issue for %s not fixed", issue.Session)
	}

	got, err := st.Get(ctx, "stray-branch")
	require.NoError(t, err)
	assert.Empty(t, got.PRBranchName)
	got, err = st.Get(ctx, "no-branch")
	require.NoError(t, err)
	assert.Equal(t, session.PRStateNone, got.PRState)
	got, err = st.Get(ctx, "unknown-state")
	require.NoError(t, err)
	assert.Equal(t, session.PRStateNone, got.PRState)
	assert.Empty(t, got.PRBranchName)

	// Everything validates after the repair.
	report, err = NewIntegrityChecker(st, workspaces, true).Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestIntegrity_InvalidAndDuplicateRecords(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	workspaces := filepath.Join(dir, "workspaces")
	st := newFileStoreAt(t, dir)

	makeRec := func(name string) *session.Record {
		rec := newTestRecord(name)
		rec.WorkspacePath = filepath.Join(workspaces, name)
		require.NoError(t, os.MkdirAll(rec.WorkspacePath, 0o755))
		return rec
	}

	dupA := makeRec("twin")
	dupB := makeRec("twin")
	invalid := makeRec("broken")
	invalid.PRState = session.PRStateApproved // no PR branch

	// ReplaceAll bypasses validation, standing in for a hand-edited file.
	require.NoError(t, st.ReplaceAll(ctx, []*session.Record{dupA, dupB, invalid}))

	report, err := NewIntegrityChecker(st, workspaces, false).Check(ctx)
	require.NoError(t, err)

	kinds := map[IssueKind]int{}
	for _, issue := range report.Issues {
		kinds[issue.Kind]++
	}
	assert.Equal(t, 1, kinds[IssueDuplicateName])
	assert.Equal(t, 1, kinds[IssueInvalidRecord])
}
