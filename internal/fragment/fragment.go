// Package fragment implements the sliding window of on-disk media
// segments shared by the HLS and DASH bridge targets (C13): each
// segment is written to a temporary path and atomically renamed into
// place so a consumer fetching it by URL never observes a partial
// file, and a Window tracks which segments are still within the live
// playlist/manifest versus expired and ready for cleanup.
package fragment

import (
	"os"
	"path/filepath"
	"time"

	"github.com/docterling/rtmp-bridge-server/internal/rtmperrors"
)

// Fragment is a single media file on disk with a duration, such as an
// HLS .ts segment or a DASH .m4s chunk.
type Fragment struct {
	fullPath         string
	tmpPath          string
	startDTS         int64
	lastDTS          int64
	sequenceNumber   uint64
	sequenceHeader   bool
	file             *os.File
}

// New creates a fragment that will publish to fullPath, writing
// through a ".tmp" sibling until Rename is called.
func New(fullPath string, sequenceNumber uint64) *Fragment {
	return &Fragment{
		fullPath:       fullPath,
		tmpPath:        fullPath + ".tmp",
		sequenceNumber: sequenceNumber,
		startDTS:       -1,
	}
}

// CreateDir makes the fragment's parent directory tree, matching the
// teacher's recursive mkdir-before-open convention.
func (f *Fragment) CreateDir() error {
	dir := filepath.Dir(f.fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return rtmperrors.Wrap(rtmperrors.ResourceExhaustion, "create fragment dir", err)
	}
	return nil
}

// Open opens (creating/truncating) the temporary file for writing.
func (f *Fragment) Open() error {
	file, err := os.OpenFile(f.tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return rtmperrors.Wrap(rtmperrors.ResourceExhaustion, "open fragment tmp file", err)
	}
	f.file = file
	return nil
}

// Write appends bytes to the temporary file.
func (f *Fragment) Write(b []byte) (int, error) {
	n, err := f.file.Write(b)
	if err != nil {
		return n, rtmperrors.Wrap(rtmperrors.TransientIO, "write fragment", err)
	}
	return n, nil
}

// Append records that a frame with the given dts (in milliseconds)
// was written into this fragment, extending its duration.
func (f *Fragment) Append(dtsMS int64) {
	if f.startDTS < 0 {
		f.startDTS = dtsMS
	}
	f.lastDTS = dtsMS
}

// Duration returns the fragment's accumulated duration.
func (f *Fragment) Duration() time.Duration {
	if f.startDTS < 0 {
		return 0
	}
	return time.Duration(f.lastDTS-f.startDTS) * time.Millisecond
}

// StartDTS returns the dts in milliseconds of the first appended frame.
func (f *Fragment) StartDTS() int64 { return f.startDTS }

// IsSequenceHeader reports whether this fragment carries a codec
// sequence header (used by HLS/DASH init-segment bookkeeping).
func (f *Fragment) IsSequenceHeader() bool { return f.sequenceHeader }

// SetSequenceHeader marks whether the fragment carries a sequence header.
func (f *Fragment) SetSequenceHeader(v bool) { f.sequenceHeader = v }

// Number returns the fragment's sequence number, used in DASH MPD
// segment-template substitution and HLS media-sequence numbering.
func (f *Fragment) Number() uint64 { return f.sequenceNumber }

// FullPath returns the fragment's final on-disk path.
func (f *Fragment) FullPath() string { return f.fullPath }

// TmpPath returns the fragment's temporary on-disk path.
func (f *Fragment) TmpPath() string { return f.tmpPath }

// Rename closes the temp file (if open) and atomically publishes it
// by renaming tmpPath to fullPath. A consumer resolving fullPath by
// URL either sees nothing or the complete file, never a partial one.
func (f *Fragment) Rename() error {
	if f.file != nil {
		if err := f.file.Close(); err != nil {
			return rtmperrors.Wrap(rtmperrors.TransientIO, "close fragment tmp file", err)
		}
		f.file = nil
	}
	if err := os.Rename(f.tmpPath, f.fullPath); err != nil {
		return rtmperrors.Wrap(rtmperrors.ResourceExhaustion, "rename fragment", err)
	}
	return nil
}

// UnlinkTmpFile removes the temporary file, ignoring a missing file.
func (f *Fragment) UnlinkTmpFile() error {
	if f.file != nil {
		_ = f.file.Close()
		f.file = nil
	}
	if err := os.Remove(f.tmpPath); err != nil && !os.IsNotExist(err) {
		return rtmperrors.Wrap(rtmperrors.ResourceExhaustion, "unlink fragment tmp file", err)
	}
	return nil
}

// UnlinkFile removes the published file, ignoring errors (matching
// the teacher's "ignore any error" unlink semantics for cleanup paths).
func (f *Fragment) UnlinkFile() {
	_ = os.Remove(f.fullPath)
}
