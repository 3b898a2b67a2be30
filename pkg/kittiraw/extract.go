// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kittiraw

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// extractArchive unpacks a downloaded zip into destDir, overwriting any
// files that already exist. Member paths must stay inside destDir.
func extractArchive(fsys afero.Fs, archivePath, destDir string) error {
	f, err := fsys.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	zr, err := zip.NewReader(f, fi.Size())
	if err != nil {
		return err
	}

	for _, zf := range zr.File {
		if err := extractFile(fsys, zf, destDir); err != nil {
			return fmt.Errorf("%s: %w", zf.Name, err)
		}
	}
	return nil
}

func extractFile(fsys afero.Fs, zf *zip.File, destDir string) error {
	name := filepath.FromSlash(zf.Name)
	if !filepath.IsLocal(name) {
		return fmt.Errorf("member path escapes the target root")
	}
	target := filepath.Join(destDir, name)

	if zf.FileInfo().IsDir() {
		return fsys.MkdirAll(target, 0o755)
	}
	if err := fsys.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := zf.Mode().Perm()
	if mode == 0 {
		mode = fs.FileMode(0o644)
	}
	out, err := fsys.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
