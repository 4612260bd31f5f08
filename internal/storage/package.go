package storage

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// PackageArtifacts bundles the given files into a zip archive at dest,
// storing each under its base name. An empty file list produces no archive.
func PackageArtifacts(paths []string, dest string) error {
	if len(paths) == 0 {
		return nil
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", dest, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, p := range paths {
		if err := addToArchive(zw, p); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive %s: %w", dest, err)
	}
	return nil
}

func addToArchive(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()

	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return fmt.Errorf("add %s to archive: %w", path, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("write %s to archive: %w", path, err)
	}
	return nil
}
