// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kittiraw

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// makeZip builds an in-memory zip archive. Keys ending in "/" become
// directory entries. Writes to a bytes.Buffer cannot fail.
func makeZip(files map[string]string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		if strings.HasSuffix(name, "/") {
			zw.Create(name)
			continue
		}
		w, _ := zw.Create(name)
		w.Write([]byte(content))
	}
	zw.Close()
	return buf.Bytes()
}

func TestExtractArchive(t *testing.T) {
	fsys := afero.NewMemMapFs()
	data := makeZip(map[string]string{
		"2011_09_28/calib_cam_to_cam.txt":  "calib_time: 28-Sep-2011 16:55:03",
		"2011_09_28/calib_imu_to_velo.txt": "R: 1 0 0 0 1 0 0 0 1",
		"2011_09_28/sub/dir/":              "",
	})
	require.NoError(t, afero.WriteFile(fsys, "/root/a.zip", data, 0o644))

	require.NoError(t, extractArchive(fsys, "/root/a.zip", "/root"))

	content, err := afero.ReadFile(fsys, "/root/2011_09_28/calib_cam_to_cam.txt")
	require.NoError(t, err)
	require.Equal(t, "calib_time: 28-Sep-2011 16:55:03", string(content))

	ok, err := afero.DirExists(fsys, "/root/2011_09_28/sub/dir")
	require.NoError(t, err)
	require.True(t, ok, "explicit directory entries must be created")
}

func TestExtractArchiveCreatesParentDirs(t *testing.T) {
	fsys := afero.NewMemMapFs()
	data := makeZip(map[string]string{
		"2011_09_26/2011_09_26_drive_0001_sync/image_00/data/0000000000.png": "png bytes",
	})
	require.NoError(t, afero.WriteFile(fsys, "/root/a.zip", data, 0o644))

	require.NoError(t, extractArchive(fsys, "/root/a.zip", "/root"))

	ok, err := afero.Exists(fsys, "/root/2011_09_26/2011_09_26_drive_0001_sync/image_00/data/0000000000.png")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestExtractArchiveOverwrites(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/root/2011_09_28/calib_cam_to_cam.txt", []byte("stale"), 0o644))

	data := makeZip(map[string]string{"2011_09_28/calib_cam_to_cam.txt": "fresh"})
	require.NoError(t, afero.WriteFile(fsys, "/root/a.zip", data, 0o644))

	require.NoError(t, extractArchive(fsys, "/root/a.zip", "/root"))

	content, err := afero.ReadFile(fsys, "/root/2011_09_28/calib_cam_to_cam.txt")
	require.NoError(t, err)
	require.Equal(t, "fresh", string(content))
}

func TestExtractArchiveRejectsUnsafePaths(t *testing.T) {
	testCases := []struct {
		name   string
		member string
	}{
		{"parent traversal", "../evil.txt"},
		{"nested traversal", "2011_09_26/../../evil.txt"},
		{"absolute path", "/etc/evil.txt"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			data := makeZip(map[string]string{tc.member: "payload"})
			require.NoError(t, afero.WriteFile(fsys, "/root/a.zip", data, 0o644))

			err := extractArchive(fsys, "/root/a.zip", "/root")
			require.Error(t, err)
			require.Contains(t, err.Error(), "escapes the target root")
		})
	}
}

func TestExtractArchiveRejectsCorruptData(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/root/bad.zip", []byte("this is not a zip archive"), 0o644))

	err := extractArchive(fsys, "/root/bad.zip", "/root")
	require.Error(t, err)
}

func TestExtractArchiveMissingFile(t *testing.T) {
	fsys := afero.NewMemMapFs()

	err := extractArchive(fsys, "/root/nope.zip", "/root")
	require.Error(t, err)
}
