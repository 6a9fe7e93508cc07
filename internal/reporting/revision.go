package reporting

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
)

// Revision returns the abbreviated HEAD commit of the repository containing
// path, with a "-dirty" suffix when the worktree has uncommitted changes. It
// returns "" without error when path is not inside a repository.
func Revision(path string) (string, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open repository at %s: %w", path, err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("get HEAD: %w", err)
	}
	rev := head.Hash().String()[:12]

	wt, err := repo.Worktree()
	if err != nil {
		return rev, nil
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("worktree status: %w", err)
	}
	if !status.IsClean() {
		rev += "-dirty"
	}
	return rev, nil
}
