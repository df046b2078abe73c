package fetch

import (
	"context"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5/osfs"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/quay/zlog"

	"github.com/teaxyz/chai/libchai/driver"
)

// Git clones repo at depth 1 into a fresh snapshot directory. The
// fingerprint is the HEAD commit hash; when it matches prev the snapshot is
// discarded and [driver.Unchanged] is returned.
func (f *Fetcher) Git(ctx context.Context, pm, repo string, prev driver.Fingerprint) (string, driver.Fingerprint, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "internal/fetch/Fetcher.Git", "repo", repo)

	dir, err := f.snapshotDir(pm)
	if err != nil {
		return "", "", err
	}
	wt := osfs.New(dir)
	dot := osfs.New(dir + "/.git")
	storer := filesystem.NewStorage(dot, cache.NewObjectLRUDefault())

	r, err := git.CloneContext(ctx, storer, wt, &git.CloneOptions{
		URL:          repo,
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	})
	if err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("failed to clone %q: %w", repo, err)
	}
	head, err := r.Head()
	if err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	fp := driver.Fingerprint(head.Hash().String())
	if prev != "" && fp == prev {
		os.RemoveAll(dir)
		return "", prev, driver.Unchanged
	}
	if err := f.commit(pm, dir); err != nil {
		os.RemoveAll(dir)
		return "", "", err
	}
	zlog.Info(ctx).Str("dir", dir).Str("commit", string(fp)).Msg("cloned upstream repository")
	return dir, fp, nil
}
