package history

// This file contains the run history: every run writes a history.json
// into its own directory below <outdir>/history.

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/perfgo/testrunner/model"
	"github.com/rs/zerolog"
)

// FileName is the name of the record written for every run.
const FileName = "history.json"

type Entry struct {
	History  model.History
	FullPath string
}

// Root returns the history directory below outDir.
func Root(outDir string) string {
	return filepath.Join(outDir, "history")
}

// NewID returns a fresh run ID.
func NewID() string {
	return uuid.NewString()
}

// RunDir returns the directory of a run: <timestamp>-<commit>-<id>.
func RunDir(root string, h *model.History) string {
	shortCommit := "nogit"
	if h.Git != nil && h.Git.Commit != "" {
		shortCommit = h.Git.Commit
		if len(shortCommit) > 8 {
			shortCommit = shortCommit[:8]
		}
	}
	shortID := h.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	name := fmt.Sprintf("%s-%s-%s", h.Timestamp.Format("20060102-150405"), shortCommit, shortID)
	return filepath.Join(root, name)
}

// Record writes h into its run directory below root and returns that
// directory.
func Record(logger zerolog.Logger, root string, h *model.History) (string, error) {
	runDir := RunDir(root, h)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, FileName), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write history: %w", err)
	}

	logger.Debug().Str("dir", runDir).Str("id", h.ID).Msg("Recorded test run")
	return runDir, nil
}

// LoadEntries loads all history entries below root, newest first. A
// missing root yields no entries.
func LoadEntries(logger zerolog.Logger, root string) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			historyPath := filepath.Join(path, FileName)
			if _, err := os.Stat(historyPath); err == nil {
				history, err := parseHistoryJSON(historyPath)
				if err != nil {
					logger.Warn().Err(err).Str("path", historyPath).Msg("Failed to parse history.json")
					return nil
				}

				entries = append(entries, Entry{
					History:  history,
					FullPath: path,
				})
			}
		}

		return nil
	})

	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to walk history directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].History.Timestamp.After(entries[j].History.Timestamp)
	})

	return entries, nil
}

// parseHistoryJSON parses a history.json file.
func parseHistoryJSON(historyPath string) (model.History, error) {
	data, err := os.ReadFile(historyPath)
	if err != nil {
		return model.History{}, err
	}

	var history model.History
	if err := json.Unmarshal(data, &history); err != nil {
		return model.History{}, err
	}

	return history, nil
}
