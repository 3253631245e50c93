package runenv

import (
	"context"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/pkg/errors"

	"github.com/cachew-ci/cachew/pkg/common"
)

// FindGitRef resolves the full ref name (refs/heads/... or refs/tags/...) of
// the repository containing dir.
func FindGitRef(ctx context.Context, dir string) (string, error) {
	logger := common.Logger(ctx)

	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return "", errors.Wrapf(err, "%s is not inside a git repository", dir)
	}

	head, err := repo.Head()
	if err != nil {
		return "", errors.Wrap(err, "resolve HEAD")
	}
	if name := head.Name(); name.IsBranch() {
		logger.Debugf("HEAD is on branch %s", name)
		return name.String(), nil
	}

	// Detached HEAD. A tag pointing at the same commit still gives a
	// reproducible ref.
	tags, err := repo.Tags()
	if err != nil {
		return "", errors.Wrap(err, "list tags")
	}
	var ref string
	_ = tags.ForEach(func(t *plumbing.Reference) error {
		if t.Hash() == head.Hash() {
			ref = t.Name().String()
			return storer.ErrStop
		}
		return nil
	})
	if ref == "" {
		return "", errors.Errorf("no branch or tag found for HEAD %s", head.Hash())
	}
	logger.Debugf("HEAD resolved to tag %s", ref)
	return ref, nil
}
