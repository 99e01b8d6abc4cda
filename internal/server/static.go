package server

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
)

const embeddedRoot = "static"

// ErrStaticDirNotDirectory indicates a static_dir that is not a directory.
var ErrStaticDirNotDirectory = errors.New("static_dir is not a directory")

//go:embed static
var embeddedFrontend embed.FS

// frontendFS returns the directory at dir, or the bundled frontend when dir
// is empty.
func frontendFS(dir string) (http.FileSystem, error) {
	if dir == "" {
		sub, err := fs.Sub(embeddedFrontend, embeddedRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to open bundled frontend: %w", err)
		}

		return http.FS(sub), nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open static_dir '%s': %w", dir, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrStaticDirNotDirectory, dir)
	}

	return http.Dir(dir), nil
}
