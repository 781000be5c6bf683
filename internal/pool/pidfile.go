package pool

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PIDFile is the read/write/remove contract cmd/srfctl and cmd/srfworker
// share, so a controller started by one binary can always be found and
// signaled by the other.
type PIDFile struct {
	Path string
}

// Write records the current process's pid, truncating any stale file.
func (p PIDFile) Write() error {
	f, err := os.OpenFile(p.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("pool: write pidfile %s: %w", p.Path, err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%d\n", os.Getpid())
	return err
}

// Read parses the recorded pid. A missing file is reported as an error,
// not a sentinel zero value — callers decide what "not running" means.
func (p PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, fmt.Errorf("pool: read pidfile %s: %w", p.Path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pool: pidfile %s contents %q: %w", p.Path, data, err)
	}
	return pid, nil
}

// Remove unlinks the pidfile; removing an already-absent file is not an
// error, matching a shutdown path that may run twice.
func (p PIDFile) Remove() error {
	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pool: remove pidfile %s: %w", p.Path, err)
	}
	return nil
}
