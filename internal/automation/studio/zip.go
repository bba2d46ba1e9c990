package studio

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrUnsafePath = errors.New("path escapes target directory")

// SafePath resolves name under base and rejects anything that would land
// outside of it.
func SafePath(base, name string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	resolved := filepath.Clean(filepath.Join(absBase, name))
	if resolved != absBase && !strings.HasPrefix(resolved, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return resolved, nil
}

// ExtractZip unpacks src into dest and returns the number of files written.
// Entries escaping dest and symlinks fail the whole extraction.
func ExtractZip(src, dest string) (int, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return 0, fmt.Errorf("open zip %s: %w", src, err)
	}
	defer r.Close()

	// validate everything before touching the disk
	targets := make([]string, len(r.File))
	for i, f := range r.File {
		if f.Mode()&os.ModeSymlink != 0 {
			return 0, fmt.Errorf("%w: symlink %q", ErrUnsafePath, f.Name)
		}
		target, err := SafePath(dest, f.Name)
		if err != nil {
			return 0, err
		}
		targets[i] = target
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}

	files := 0
	for i, f := range r.File {
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(targets[i], 0755); err != nil {
				return files, err
			}
			continue
		}
		if err := extractFile(f, targets[i]); err != nil {
			return files, err
		}
		files++
	}
	return files, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	in, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s in zip: %w", f.Name, err)
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return out.Close()
}
