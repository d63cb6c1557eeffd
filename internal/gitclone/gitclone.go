// Package gitclone clones repositories into instance-private working
// directories using go-git.
package gitclone

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/PQCA/cbomkit-go/internal/model"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Result is the outcome of a successful clone: the work-tree directory and
// the commit the work tree points at.
type Result struct {
	Dir    string
	Commit model.Commit
}

// Service clones repositories below a base directory, one private
// subdirectory per scan id.
type Service struct {
	baseDir string
}

func New(baseDir string) *Service {
	return &Service{baseDir: baseDir}
}

// Clone checks out url at revision into a directory private to id. When a
// commit is already known (source-hosting coordinates carry one) the clone
// ignores the branch and checks that reference out instead. Every failure
// wraps model.ErrCloneFailed and leaves no directory behind.
func (s *Service) Clone(
	ctx context.Context,
	id model.ScanID,
	url model.GitURL,
	revision model.Revision,
	commit model.Commit,
	creds *model.Credentials,
) (Result, error) {
	dir := filepath.Join(s.baseDir, id.String())

	opts := &git.CloneOptions{
		URL: string(url),
	}
	if creds != nil {
		opts.Auth = &githttp.BasicAuth{
			Username: creds.Username,
			Password: creds.Token,
		}
	}
	if commit == "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(string(revision))
		opts.SingleBranch = true
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		_ = os.RemoveAll(dir)
		return Result{}, fmt.Errorf("%w: cloning %s at %s: %v", model.ErrCloneFailed, url, revision, err)
	}

	if commit != "" {
		hash, err := repo.ResolveRevision(plumbing.Revision(commit))
		if err != nil {
			_ = os.RemoveAll(dir)
			return Result{}, fmt.Errorf("%w: resolving %s in %s: %v", model.ErrCloneFailed, commit, url, err)
		}
		wt, err := repo.Worktree()
		if err != nil {
			_ = os.RemoveAll(dir)
			return Result{}, fmt.Errorf("%w: opening work tree: %v", model.ErrCloneFailed, err)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash}); err != nil {
			_ = os.RemoveAll(dir)
			return Result{}, fmt.Errorf("%w: checking out %s: %v", model.ErrCloneFailed, commit, err)
		}
	}

	head, err := repo.Head()
	if err != nil {
		_ = os.RemoveAll(dir)
		return Result{}, fmt.Errorf("%w: reading HEAD: %v", model.ErrCloneFailed, err)
	}

	return Result{
		Dir:    dir,
		Commit: model.Commit(head.Hash().String()),
	}, nil
}
