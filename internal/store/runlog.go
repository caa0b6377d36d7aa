package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	ErrRunLogNotFound = errors.New("run log not found")
	ErrInvalidJobID   = errors.New("invalid job id")
)

const runLogStampLayout = "20060102T150405.000000000Z"

// RunLogDir returns the directory holding the run logs of a job.
func (s *Store) RunLogDir(jobID string) string {
	return filepath.Join(s.StateDir, "runs", jobID)
}

// RunLogPath returns the path of the run log written for a run started at.
func (s *Store) RunLogPath(jobID string, at time.Time) string {
	return filepath.Join(s.RunLogDir(jobID), at.UTC().Format(runLogStampLayout)+".log")
}

// EnsureRunLogDir makes sure the directory for a job's run logs exists.
func (s *Store) EnsureRunLogDir(jobID string) error {
	if err := validateJobID(jobID); err != nil {
		return err
	}
	return os.MkdirAll(s.RunLogDir(jobID), 0o755)
}

// WriteRunLog stores the message output of one run and returns its path.
func (s *Store) WriteRunLog(jobID string, at time.Time, content string) (string, error) {
	if err := s.EnsureRunLogDir(jobID); err != nil {
		return "", fmt.Errorf("ensure run log dir: %w", err)
	}
	path := s.RunLogPath(jobID, at)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write run log: %w", err)
	}
	return path, nil
}

// ListRunLogs returns the run log paths of a job, newest first.
func (s *Store) ListRunLogs(jobID string) ([]string, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.RunLogDir(jobID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read run log dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		names = append(names, entry.Name())
	}
	// Stamp layout sorts lexically in time order.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	paths := make([]string, 0, len(names))
	for _, name := range names {
		paths = append(paths, filepath.Join(s.RunLogDir(jobID), name))
	}
	return paths, nil
}

// LatestRunLog returns the content of the newest run log of a job.
func (s *Store) LatestRunLog(jobID string) (string, error) {
	paths, err := s.ListRunLogs(jobID)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", ErrRunLogNotFound
	}
	data, err := os.ReadFile(paths[0])
	if err != nil {
		return "", fmt.Errorf("read run log: %w", err)
	}
	return string(data), nil
}

// PruneRunLogs removes run logs beyond the retention limit for a job.
func (s *Store) PruneRunLogs(jobID string) (int, error) {
	paths, err := s.ListRunLogs(jobID)
	if err != nil {
		return 0, err
	}
	if s.LogRetention <= 0 || len(paths) <= s.LogRetention {
		return 0, nil
	}
	removed := 0
	for _, path := range paths[s.LogRetention:] {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove run log: %w", err)
		}
		removed++
	}
	return removed, nil
}

// PruneAllRunLogs prunes the run logs of every job directory on disk.
func (s *Store) PruneAllRunLogs() (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.StateDir, "runs"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read runs dir: %w", err)
	}
	total := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		n, err := s.PruneRunLogs(entry.Name())
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// TailLines keeps the last n lines of content; n <= 0 keeps everything.
func TailLines(content string, n int) string {
	if n <= 0 {
		return content
	}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n") + "\n"
}

func validateJobID(jobID string) error {
	if jobID == "" || jobID == "." || jobID == ".." || filepath.Base(jobID) != jobID {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	return nil
}
