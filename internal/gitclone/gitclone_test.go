package gitclone_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PQCA/cbomkit-go/internal/gitclone"
	"github.com/PQCA/cbomkit-go/internal/model"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// initRepo creates a local repository with one commit on the given branch and
// returns its path and the commit hash.
func initRepo(t *testing.T, branch string) (string, string) {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(branch),
		},
	})
	require.NoError(t, err)

	hash := commitFile(t, repo, dir, "README.md", "# acme\n", "initial commit")
	return dir, hash
}

func commitFile(t *testing.T, repo *git.Repository, dir, name, content, msg string) string {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)

	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "tester",
			Email: "tester@acme.org",
			When:  time.Now(),
		},
	})
	require.NoError(t, err)
	return hash.String()
}

func TestCloneBranch(t *testing.T) {
	t.Parallel()

	src, commit := initRepo(t, "main")
	base := t.TempDir()
	id := model.NewScanID()

	res, err := gitclone.New(base).Clone(context.Background(), id, model.GitURL(src), model.RevisionMain, "", nil)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, id.String()), res.Dir)
	require.Equal(t, model.Commit(commit), res.Commit)
	require.FileExists(t, filepath.Join(res.Dir, "README.md"))
}

func TestCloneMissingBranchFailsAndCleansUp(t *testing.T) {
	t.Parallel()

	src, _ := initRepo(t, "master")
	base := t.TempDir()
	id := model.NewScanID()

	_, err := gitclone.New(base).Clone(context.Background(), id, model.GitURL(src), model.RevisionMain, "", nil)
	require.ErrorIs(t, err, model.ErrCloneFailed)
	require.NoDirExists(t, filepath.Join(base, id.String()))
}

func TestCloneMasterFallbackRepository(t *testing.T) {
	t.Parallel()

	src, commit := initRepo(t, "master")
	base := t.TempDir()

	res, err := gitclone.New(base).Clone(context.Background(), model.NewScanID(), model.GitURL(src), model.RevisionMaster, "", nil)
	require.NoError(t, err)
	require.Equal(t, model.Commit(commit), res.Commit)
}

func TestCloneAtKnownCommit(t *testing.T) {
	t.Parallel()

	src, first := initRepo(t, "main")
	repo, err := git.PlainOpen(src)
	require.NoError(t, err)
	second := commitFile(t, repo, src, "extra.txt", "more\n", "second commit")
	require.NotEqual(t, first, second)

	base := t.TempDir()
	res, err := gitclone.New(base).Clone(context.Background(), model.NewScanID(), model.GitURL(src), model.RevisionMain, model.Commit(first), nil)
	require.NoError(t, err)
	require.Equal(t, model.Commit(first), res.Commit)
	require.NoFileExists(t, filepath.Join(res.Dir, "extra.txt"))
}

func TestCloneUnknownCommitFailsAndCleansUp(t *testing.T) {
	t.Parallel()

	src, _ := initRepo(t, "main")
	base := t.TempDir()
	id := model.NewScanID()

	_, err := gitclone.New(base).Clone(context.Background(), id, model.GitURL(src), model.RevisionMain, "0000000000000000000000000000000000000000", nil)
	require.ErrorIs(t, err, model.ErrCloneFailed)
	require.NoDirExists(t, filepath.Join(base, id.String()))
}

func TestCloneBogusURL(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	id := model.NewScanID()

	_, err := gitclone.New(base).Clone(context.Background(), id, model.GitURL(filepath.Join(t.TempDir(), "missing")), model.RevisionMain, "", nil)
	require.ErrorIs(t, err, model.ErrCloneFailed)
	require.NoDirExists(t, filepath.Join(base, id.String()))
}
