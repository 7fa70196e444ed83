package cli

// This file contains Git integration utilities for retrieving
// repository information of the tests being run.

import (
	"fmt"
	"os/exec"
	"strings"
)

func gitOutput(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// getGitInfo returns the commit and branch of the repository containing dir.
func (a *App) getGitInfo(dir string) (commit, branch string, err error) {
	if commit, err = gitOutput(dir, "rev-parse", "HEAD"); err != nil {
		return "", "", fmt.Errorf("failed to get git commit: %w", err)
	}
	if branch, err = gitOutput(dir, "rev-parse", "--abbrev-ref", "HEAD"); err != nil {
		return "", "", fmt.Errorf("failed to get git branch: %w", err)
	}
	a.logger.Debug().Str("commit", commit).Str("branch", branch).Msg("Found git repository")
	return commit, branch, nil
}
