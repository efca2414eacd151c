// Package pidfile writes and removes the server's pidfile, the
// optional persisted state named in spec.md §6's CLI collaborator
// contract.
package pidfile

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Write creates path containing the current process id. A no-op if
// path is empty.
func Write(path string) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return fmt.Errorf("pidfile: write %s: %w", path, err)
	}
	return nil
}

// Remove deletes path; it does not check which process wrote it. A
// no-op if path is empty or the file does not exist; logs and continues
// on any other removal error rather than treating shutdown cleanup as
// fatal.
func Remove(path string, logger *slog.Logger) {
	if path == "" {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("pidfile: failed to remove", "path", path, "error", err)
	}
}

// Read returns the pid recorded in path, or an error if the file is
// missing or does not contain a valid integer.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("pidfile: read %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pidfile: parse %s: %w", path, err)
	}
	return pid, nil
}
