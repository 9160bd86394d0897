package terminal

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/peterh/liner"
)

// LineEditor wraps liner with a persistent input history.
type LineEditor struct {
	*liner.State
	historyFile string
}

// NewLineEditor creates a LineEditor loading its history from historyFile. A missing history file starts an
// empty history.
func NewLineEditor(historyFile string) (*LineEditor, error) {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	e := &LineEditor{
		State:       line,
		historyFile: historyFile,
	}

	f, err := os.Open(historyFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return e, nil
	case err != nil:
		line.Close()
		return nil, fmt.Errorf("error opening history file: %w", err)
	}
	defer f.Close()

	if _, err := line.ReadHistory(f); err != nil {
		line.Close()
		return nil, fmt.Errorf("error reading history file: %w", err)
	}
	return e, nil
}

// Close saves the history with owner-only permissions and restores the terminal. The terminal is restored even
// when saving fails.
func (e *LineEditor) Close() error {
	return errors.Join(e.saveHistory(), e.State.Close())
}

func (e *LineEditor) saveHistory() error {
	f, err := os.OpenFile(e.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("error opening history file: %w", err)
	}
	if _, err := e.WriteHistory(f); err != nil {
		f.Close()
		return fmt.Errorf("error writing history file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("error closing history file: %w", err)
	}
	return nil
}
