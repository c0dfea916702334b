package local

import (
	"github.com/go-git/go-git/v5"

	"github.com/fyrsmithlabs/ctxpack/internal/backend"
)

// gitInfo reports the branch and commit of the repository containing
// projectPath. It returns nil when the path is not in a git work tree or HEAD
// cannot be resolved.
func gitInfo(projectPath string) *backend.GitInfo {
	repo, err := git.PlainOpenWithOptions(projectPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil
	}
	head, err := repo.Head()
	if err != nil {
		// Unborn branch in a fresh repository.
		return nil
	}

	info := &backend.GitInfo{Commit: head.Hash().String()}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}
	return info
}
