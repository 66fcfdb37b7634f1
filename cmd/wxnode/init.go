package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/wxnode/examples"
)

// runInit writes an example config.yaml and .env into dir. Existing
// files are never overwritten. Both files may hold credentials and are
// created owner-only.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing wxnode configuration in %s\n", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	for _, f := range []struct {
		name    string
		content []byte
	}{
		{"config.yaml", examples.ConfigYAML},
		{".env", examples.EnvFile},
	} {
		path := filepath.Join(dir, f.name)
		wrote, err := writeIfMissing(path, f.content, 0o600)
		if err != nil {
			return err
		}
		if wrote {
			fmt.Fprintf(w, "  ✓ %s\n", path)
		} else {
			fmt.Fprintf(w, "  - %s (exists, left unchanged)\n", path)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Fill in .env with Wi-Fi and broker details, then review config.yaml.")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, reporting whether it wrote.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
