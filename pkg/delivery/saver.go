package delivery

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
)

// Saver writes a finished archive somewhere and returns an opaque handle
type Saver interface {
	Save(ctx context.Context, fileName string, data []byte) (string, error)
}

// Prompt asks for a file name, offering suggested as the default
type Prompt func(suggested string) (string, error)

// FileSaver writes archives into a directory
type FileSaver struct {
	dir    string
	prompt Prompt
}

// NewFileSaver creates a saver for dir. A nil prompt saves under the suggested name.
func NewFileSaver(dir string, prompt Prompt) *FileSaver {
	return &FileSaver{dir: dir, prompt: prompt}
}

// Save writes data and returns the final path. An existing file is never
// overwritten: "name.zip" becomes "name (1).zip", "name (2).zip" and so on.
func (s *FileSaver) Save(ctx context.Context, fileName string, data []byte) (string, error) {
	if s.prompt != nil {
		chosen, err := s.prompt(fileName)
		if err != nil {
			return "", fmt.Errorf("save prompt failed: %w", err)
		}
		if chosen = strings.TrimSpace(chosen); chosen != "" {
			fileName = chosen
		}
	}

	path := fileName
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.dir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)

	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		candidate := path
		if n > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
		}

		file, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create archive file: %w", err)
		}

		if _, err := file.Write(data); err != nil {
			file.Close()
			os.Remove(candidate)
			return "", fmt.Errorf("failed to write archive: %w", err)
		}
		if err := file.Close(); err != nil {
			os.Remove(candidate)
			return "", fmt.Errorf("failed to close archive: %w", err)
		}
		return candidate, nil
	}
}

// TerminalPrompt asks on out and reads the answer from in. When in is not a
// terminal the suggested name is used without asking.
func TerminalPrompt(in *os.File, out io.Writer) Prompt {
	reader := bufio.NewReader(in)
	return func(suggested string) (string, error) {
		if !term.IsTerminal(int(in.Fd())) {
			return suggested, nil
		}
		fmt.Fprintf(out, "Save archive as [%s]: ", suggested)
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		if line = strings.TrimSpace(line); line == "" {
			return suggested, nil
		}
		return line, nil
	}
}
