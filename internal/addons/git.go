package addons

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

var (
	ErrInvalidURL = errors.New("invalid git URL")
	ErrNotGitRepo = errors.New("not a git repository")
)

// IsGitURL reports whether an input names a remote git repository rather
// than a local path. Plain https links only qualify with a .git suffix so
// that ordinary download URLs are not mistaken for repositories
func IsGitURL(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(lower, "git@"), strings.HasPrefix(lower, "git://"), strings.HasPrefix(lower, "ssh://"):
		return true
	case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
		return strings.HasSuffix(strings.TrimSuffix(lower, "/"), ".git")
	}
	return false
}

// ValidateGitURL checks if a string looks like a valid git URL
func ValidateGitURL(url string) error {
	if !IsGitURL(url) {
		return fmt.Errorf("%w: must start with https://, git@, or git://", ErrInvalidURL)
	}
	return nil
}

// NormalizeGitURL ensures the URL ends with .git
func NormalizeGitURL(url string) string {
	url = strings.TrimSuffix(strings.TrimSpace(url), "/")
	if !strings.HasSuffix(url, ".git") {
		return url + ".git"
	}
	return url
}

// ExtractRepoName extracts the repository name from a git URL
func ExtractRepoName(gitURL string) string {
	// Remove .git suffix
	name := strings.TrimSuffix(strings.TrimSuffix(gitURL, "/"), ".git")

	// Get the last path component (scp-like URLs use a colon)
	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}

	// Remove common suffixes like -master, -main
	for _, suffix := range []string{"-master", "-main", "-trunk"} {
		name = strings.TrimSuffix(name, suffix)
	}

	if name == "" {
		return "repository"
	}
	return name
}

// CloneSource shallow-clones a repository into parentDir and returns the
// checkout path. progressWriter can be nil to disable progress output
func CloneSource(ctx context.Context, url, parentDir string, progressWriter io.Writer) (string, error) {
	if err := ValidateGitURL(url); err != nil {
		return "", err
	}

	if err := os.MkdirAll(parentDir, 0755); err != nil {
		return "", err
	}
	dest, err := os.MkdirTemp(parentDir, "git-")
	if err != nil {
		return "", err
	}
	destPath := filepath.Join(dest, ExtractRepoName(url))

	_, err = git.PlainCloneContext(ctx, destPath, false, &git.CloneOptions{
		URL:          url,
		Progress:     progressWriter,
		Depth:        1,
		SingleBranch: true,
	})
	if err != nil {
		_ = os.RemoveAll(dest)
		return "", fmt.Errorf("failed to clone repository: %w", err)
	}

	return destPath, nil
}

// GetCurrentCommit returns the abbreviated HEAD commit hash
func GetCurrentCommit(repoPath string) (string, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return "", ErrNotGitRepo
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD: %w", err)
	}

	return head.Hash().String()[:8], nil
}
