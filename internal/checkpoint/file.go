package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// TimestampLayout renders Year-MonthName-Day-Hour:Minute:Second.
const TimestampLayout = "2006-Jan-02-15:04:05"

// DefaultPath is the journal file used when none is configured.
const DefaultPath = "logfile.txt"

// File appends checkpoints to a text file. The file is opened and closed on
// every call and is never truncated.
type File struct {
	path   string
	logger *zap.Logger
}

// NewFile returns a File journal writing to path.
func NewFile(path string, logger *zap.Logger) *File {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &File{path: path, logger: logger}
}

// Path returns the journal location.
func (f *File) Path() string {
	return f.path
}

// Checkpoint appends one line. Failures are logged, not returned.
func (f *File) Checkpoint(ts time.Time, message string) {
	if err := f.append(FormatLine(ts, message)); err != nil {
		f.logger.Warn("checkpoint write failed",
			zap.String("path", f.path),
			zap.String("message", message),
			zap.Error(err),
		)
	}
}

func (f *File) append(line string) (err error) {
	if dir := filepath.Dir(f.path); dir != "." {
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return fmt.Errorf("create journal dir: %w", mkErr)
		}
	}
	// #nosec G304 -- journal path comes from operator configuration.
	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		if closeErr := fh.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close journal: %w", closeErr)
		}
	}()
	if _, err := fh.WriteString(line); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// FormatLine renders a journal line including the trailing newline.
func FormatLine(ts time.Time, message string) string {
	return ts.Format(TimestampLayout) + "," + message + "\n"
}
