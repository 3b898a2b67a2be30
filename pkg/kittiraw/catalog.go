// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kittiraw

import (
	"path/filepath"
	"strings"
)

// Kind distinguishes the two archive families in the raw-data catalog.
type Kind string

const (
	// KindCalibration is a per-date calibration bundle ("<date>_calib.zip").
	KindCalibration Kind = "calibration"

	// KindSession is a synced+rectified drive recording ("<date>_drive_NNNN").
	KindSession Kind = "session"
)

// Marker file names. An entry is complete iff its marker exists under the
// target root; nothing in this package ever removes a marker.
const (
	// CalibMarkerName is shipped inside every calibration archive, so a
	// successful extraction is what puts the marker on disk.
	CalibMarkerName = "calib_cam_to_cam.txt"

	// SessionMarkerName is an empty sentinel written next to the extracted
	// session data after the archive has been fully unpacked.
	SessionMarkerName = ".full_download"
)

// Entry is one named resource in the fixed raw-data catalog.
//
// An Entry carries only its name and kind; the download URL, archive file
// name, and completion marker path are all derived deterministically:
//
//	e := kittiraw.Entry{Name: "2011_09_26_drive_0001", Kind: kittiraw.KindSession}
//	e.ArchiveName()            // "2011_09_26_drive_0001_sync.zip"
//	e.URL(kittiraw.DefaultBaseURL)
//	e.MarkerPath("/data/kitti") // ".../2011_09_26/2011_09_26_drive_0001_sync/.full_download"
type Entry struct {
	// Name is the catalog identifier: "<date>_calib.zip" for calibration
	// bundles, "<date>_drive_NNNN" for drive sessions.
	Name string `json:"name"`

	// Kind says which derivation rules apply to Name.
	Kind Kind `json:"kind"`
}

// Date returns the capture date ("YYYY_MM_DD") the entry belongs to.
func (e Entry) Date() string {
	if e.Kind == KindCalibration {
		return strings.TrimSuffix(e.Name, "_calib.zip")
	}
	if i := strings.Index(e.Name, "_drive_"); i >= 0 {
		return e.Name[:i]
	}
	return e.Name
}

// ArchiveName returns the zip file name fetched for this entry.
// Calibration entries are named after their archive already; session
// entries fetch the synced+rectified variant.
func (e Entry) ArchiveName() string {
	if e.Kind == KindCalibration {
		return e.Name
	}
	return e.Name + "_sync.zip"
}

// RemotePath returns the bucket key of the archive relative to the
// raw-data prefix. Session archives live in a per-drive folder.
func (e Entry) RemotePath() string {
	if e.Kind == KindCalibration {
		return e.Name
	}
	return e.Name + "/" + e.ArchiveName()
}

// URL resolves the archive's download URL against base.
func (e Entry) URL(base string) string {
	return strings.TrimSuffix(base, "/") + "/" + e.RemotePath()
}

// MarkerPath returns the file whose existence under root means this entry
// has been fully downloaded and extracted.
func (e Entry) MarkerPath(root string) string {
	if e.Kind == KindCalibration {
		return filepath.Join(root, e.Date(), CalibMarkerName)
	}
	return filepath.Join(root, e.Date(), strings.TrimSuffix(e.ArchiveName(), ".zip"), SessionMarkerName)
}

// calibArchives lists the per-date calibration bundles, dates ascending.
var calibArchives = []string{
	"2011_09_26_calib.zip",
	"2011_09_28_calib.zip",
	"2011_09_29_calib.zip",
	"2011_09_30_calib.zip",
	"2011_10_03_calib.zip",
}

// driveSessions lists the drive recordings, dates ascending and drive
// numbers ascending within each date.
var driveSessions = []string{
	"2011_09_26_drive_0001",
	"2011_09_26_drive_0002",
	"2011_09_26_drive_0005",
	"2011_09_26_drive_0009",
	"2011_09_26_drive_0011",
	"2011_09_26_drive_0013",
	"2011_09_26_drive_0014",
	"2011_09_26_drive_0015",
	"2011_09_26_drive_0017",
	"2011_09_26_drive_0018",
	"2011_09_26_drive_0019",
	"2011_09_26_drive_0020",
	"2011_09_26_drive_0022",
	"2011_09_26_drive_0023",
	"2011_09_26_drive_0027",
	"2011_09_26_drive_0028",
	"2011_09_26_drive_0029",
	"2011_09_26_drive_0032",
	"2011_09_26_drive_0035",
	"2011_09_26_drive_0036",
	"2011_09_26_drive_0039",
	"2011_09_26_drive_0046",
	"2011_09_26_drive_0048",
	"2011_09_26_drive_0051",
	"2011_09_26_drive_0052",
	"2011_09_26_drive_0056",
	"2011_09_26_drive_0057",
	"2011_09_26_drive_0059",
	"2011_09_26_drive_0060",
	"2011_09_26_drive_0061",
	"2011_09_26_drive_0064",
	"2011_09_26_drive_0070",
	"2011_09_26_drive_0079",
	"2011_09_26_drive_0084",
	"2011_09_26_drive_0086",
	"2011_09_26_drive_0087",
	"2011_09_26_drive_0091",
	"2011_09_26_drive_0093",
	"2011_09_26_drive_0095",
	"2011_09_26_drive_0096",
	"2011_09_26_drive_0101",
	"2011_09_26_drive_0104",
	"2011_09_26_drive_0106",
	"2011_09_26_drive_0113",
	"2011_09_26_drive_0117",
	"2011_09_28_drive_0001",
	"2011_09_28_drive_0002",
	"2011_09_29_drive_0004",
	"2011_09_29_drive_0026",
	"2011_09_29_drive_0071",
	"2011_09_30_drive_0016",
	"2011_09_30_drive_0018",
	"2011_09_30_drive_0020",
	"2011_09_30_drive_0027",
	"2011_09_30_drive_0028",
	"2011_09_30_drive_0033",
	"2011_09_30_drive_0034",
	"2011_10_03_drive_0027",
	"2011_10_03_drive_0034",
	"2011_10_03_drive_0042",
	"2011_10_03_drive_0047",
}

// Catalog returns the full catalog in processing order: for each capture
// date the calibration bundle comes first, followed by that date's drives.
// The returned slice is freshly allocated; callers may reorder or trim it.
func Catalog() []Entry {
	entries := make([]Entry, 0, len(calibArchives)+len(driveSessions))
	for _, cal := range calibArchives {
		entries = append(entries, Entry{Name: cal, Kind: KindCalibration})
		date := strings.TrimSuffix(cal, "_calib.zip")
		for _, drv := range driveSessions {
			if strings.HasPrefix(drv, date+"_drive_") {
				entries = append(entries, Entry{Name: drv, Kind: KindSession})
			}
		}
	}
	return entries
}

// CatalogDates returns the capture dates the catalog covers, ascending.
func CatalogDates() []string {
	dates := make([]string, 0, len(calibArchives))
	for _, cal := range calibArchives {
		dates = append(dates, strings.TrimSuffix(cal, "_calib.zip"))
	}
	return dates
}

// IsCatalogDate reports whether s is one of the catalog's capture dates.
func IsCatalogDate(s string) bool {
	for _, d := range CatalogDates() {
		if d == s {
			return true
		}
	}
	return false
}

// filterDates narrows entries to the given capture dates, keeping order.
func filterDates(entries []Entry, dates []string) []Entry {
	want := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		want[d] = struct{}{}
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := want[e.Date()]; ok {
			out = append(out, e)
		}
	}
	return out
}
