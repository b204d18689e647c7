package fragment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Window manages a sliding set of fragments belonging to one bridge
// output (one HLS stream or one DASH representation): fragments move
// from active to expired as the window shrinks, and expired fragments
// are cleared (optionally deleting their files) once the playlist or
// manifest no longer references them.
type Window struct {
	// SessionID uniquely tags this window's publish lifetime, so a
	// player still holding a stale playlist from a prior publish on
	// the same channel can't resolve its segment URLs against this
	// window's (unrelated) fragments after a republish reuses the
	// same sequence numbers from zero.
	SessionID string

	active  []*Fragment
	expired []*Fragment
}

// NewWindow returns an empty fragment window with a fresh session id.
func NewWindow() *Window {
	return &Window{SessionID: uuid.NewString()}
}

// SegmentName builds a collision-proof on-disk/URL segment name for
// sequence number seq within this window's publish session.
func (w *Window) SegmentName(seq uint64, ext string) string {
	return fmt.Sprintf("%s-%d%s", w.SessionID, seq, ext)
}

// Append adds a newly-published fragment to the active window.
func (w *Window) Append(f *Fragment) {
	w.active = append(w.active, f)
}

// Shrink evicts the oldest active fragments into the expired list
// while the active window's cumulative duration exceeds windowDur and
// at least two fragments remain active (a single remaining fragment is
// always kept live, mirroring the original's window invariant).
func (w *Window) Shrink(windowDur time.Duration) {
	for len(w.active) >= 2 && w.totalDuration() > windowDur {
		w.expired = append(w.expired, w.active[0])
		w.active = w.active[1:]
	}
}

// ClearExpired drops the expired list, optionally unlinking each
// fragment's file first.
func (w *Window) ClearExpired(deleteFiles bool) {
	if deleteFiles {
		for _, f := range w.expired {
			f.UnlinkFile()
		}
	}
	w.expired = nil
}

// Dispose unlinks every active and expired fragment's file and empties
// the window, used when a stream is torn down entirely.
func (w *Window) Dispose() {
	for _, f := range w.active {
		f.UnlinkFile()
	}
	for _, f := range w.expired {
		f.UnlinkFile()
	}
	w.active = nil
	w.expired = nil
}

// Empty reports whether the active window has no fragments.
func (w *Window) Empty() bool { return len(w.active) == 0 }

// Size returns the number of active fragments.
func (w *Window) Size() int { return len(w.active) }

// At returns the active fragment at index.
func (w *Window) At(index int) *Fragment { return w.active[index] }

// First returns the oldest active fragment.
func (w *Window) First() *Fragment {
	if len(w.active) == 0 {
		return nil
	}
	return w.active[0]
}

// MaxDuration returns the longest single active fragment's duration,
// used by HLS to derive the playlist's #EXT-X-TARGETDURATION.
func (w *Window) MaxDuration() time.Duration {
	var max time.Duration
	for _, f := range w.active {
		if d := f.Duration(); d > max {
			max = d
		}
	}
	return max
}

func (w *Window) totalDuration() time.Duration {
	var total time.Duration
	for _, f := range w.active {
		total += f.Duration()
	}
	return total
}
