// Package merge squash-merges task worktree branches into a workflow's
// target branch and surfaces conflicts as a workflow state rather than
// a bare error.
package merge

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/coderunhq/coderun/internal/apperrors"
)

// TaskBranch names one task's worktree path and branch to be merged.
type TaskBranch struct {
	TaskID        string
	WorktreePath  string
	Branch        string
}

// ConflictDetail describes one conflicting file, with a readable diff
// between the target branch's and the task branch's versions of it for
// UI consumption.
type ConflictDetail struct {
	TaskID string
	File   string
	Diff   string
}

// ConflictError is returned when a squash-merge leaves conflict markers.
type ConflictError struct {
	Conflicts []ConflictDetail
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflict across %d file(s)", len(e.Conflicts))
}

// Driver runs git plumbing to squash-merge task branches into a target branch.
type Driver struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

func NewDriver() *Driver {
	return &Driver{dmp: diffmatchpatch.New()}
}

// MergeAll squash-merges every task branch into targetBranch within
// baseRepoPath, in the given order. On the first conflicting branch it
// aborts that squash and returns a *ConflictError; on any other git
// failure it returns a plain apperrors.CodeMergeFailed error. Either way
// it stops at the first failing branch rather than merging partial state
// past it.
func (d *Driver) MergeAll(ctx context.Context, baseRepoPath, targetBranch string, branches []TaskBranch) error {
	if err := d.git(ctx, baseRepoPath, "checkout", targetBranch); err != nil {
		return apperrors.Wrap(apperrors.CodeMergeFailed, "checkout target branch failed", err)
	}

	for _, tb := range branches {
		if err := d.mergeOne(ctx, baseRepoPath, targetBranch, tb); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) mergeOne(ctx context.Context, baseRepoPath, targetBranch string, tb TaskBranch) error {
	if err := d.git(ctx, baseRepoPath, "merge", "--squash", tb.Branch); err != nil {
		conflicts, detectErr := d.collectConflicts(ctx, baseRepoPath, tb.TaskID)
		// A conflicted squash merge leaves no MERGE_HEAD, so "merge
		// --abort" cannot clean it up; "reset --merge" restores the
		// worktree in both the squash and plain-merge cases.
		_ = d.git(ctx, baseRepoPath, "reset", "--merge")
		if detectErr == nil && len(conflicts) > 0 {
			return &ConflictError{Conflicts: conflicts}
		}
		return apperrors.Wrap(apperrors.CodeMergeFailed, "squash merge failed for branch "+tb.Branch, err)
	}

	msg := fmt.Sprintf("squash merge task %s (%s) into %s", tb.TaskID, tb.Branch, targetBranch)
	if err := d.git(ctx, baseRepoPath, "commit", "-m", msg, "--allow-empty"); err != nil {
		return apperrors.Wrap(apperrors.CodeMergeFailed, "commit squash merge failed for branch "+tb.Branch, err)
	}
	return nil
}

// collectConflicts lists unmerged files and, for each, renders a diff
// from the "ours" index stage (:2, the target branch) to the "theirs"
// stage (:3, the task branch), for UI surfacing.
func (d *Driver) collectConflicts(ctx context.Context, repoPath, taskID string) ([]ConflictDetail, error) {
	out, err := d.gitOutput(ctx, repoPath, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	files := strings.Fields(out)
	if len(files) == 0 {
		return nil, nil
	}

	var details []ConflictDetail
	for _, f := range files {
		ours, _ := d.gitOutput(ctx, repoPath, "show", ":2:"+f)
		theirs, _ := d.gitOutput(ctx, repoPath, "show", ":3:"+f)
		diffs := d.dmp.DiffMain(ours, theirs, false)
		details = append(details, ConflictDetail{
			TaskID: taskID,
			File:   f,
			Diff:   d.dmp.DiffPrettyText(diffs),
		})
	}
	return details, nil
}

func (d *Driver) git(ctx context.Context, dir string, args ...string) error {
	_, err := d.gitOutput(ctx, dir, args...)
	return err
}

func (d *Driver) gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}
