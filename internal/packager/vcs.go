package packager

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
)

// VCS abstracts the version-control queries Package needs: which files are
// tracked, whether the tree has uncommitted changes, and the commit the
// package is being cut from. Grounded on the pack's GitExecutor
// (vjache-cie/pkg/tools/git.go): shell out to the real `git` binary rather
// than link a VCS library, since none of the example repos vendor one.
type VCS interface {
	TrackedFiles(ctx context.Context, root string) ([]string, error)
	Status(ctx context.Context, root string) (modified, staged []string, err error)
	HeadCommit(ctx context.Context, root string) (sha string, pathInRepo string, err error)
}

// GitVCS shells out to git, same as GitExecutor.Run.
type GitVCS struct{}

func (GitVCS) run(ctx context.Context, root string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (g GitVCS) TrackedFiles(ctx context.Context, root string) ([]string, error) {
	out, err := g.run(ctx, root, "ls-files", "-z")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, f := range strings.Split(out, "\x00") {
		if f != "" {
			files = append(files, f)
		}
	}
	return files, nil
}

// Status reports modified (unstaged) and staged paths, mirroring `git
// status --porcelain`'s two status columns.
func (g GitVCS) Status(ctx context.Context, root string) (modified, staged []string, err error) {
	out, err := g.run(ctx, root, "status", "--porcelain")
	if err != nil {
		return nil, nil, err
	}
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		index, worktree, path := line[0], line[1], strings.TrimSpace(line[3:])
		if index != ' ' && index != '?' {
			staged = append(staged, path)
		}
		if worktree != ' ' {
			modified = append(modified, path)
		}
	}
	return modified, staged, nil
}

func (g GitVCS) HeadCommit(ctx context.Context, root string) (string, string, error) {
	sha, err := g.run(ctx, root, "rev-parse", "HEAD")
	if err != nil {
		return "", "", err
	}
	toplevel, err := g.run(ctx, root, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", "", err
	}
	rel, err := filepath.Rel(strings.TrimSpace(toplevel), root)
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(sha), filepath.ToSlash(rel), nil
}

// NoVCS is used when the package root is not (or must not be treated as)
// under version control, i.e. the caller passed allow-no-vcs: every regular
// file under the root is eligible, and dirty/commit checks are no-ops.
type NoVCS struct{}

func (NoVCS) TrackedFiles(ctx context.Context, root string) ([]string, error) { return nil, nil }
func (NoVCS) Status(ctx context.Context, root string) (modified, staged []string, err error) {
	return nil, nil, nil
}
func (NoVCS) HeadCommit(ctx context.Context, root string) (string, string, error) {
	return "", "", nil
}
