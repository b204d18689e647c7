// Package bridge implements the composite stream bridge (C9): one
// Bridge per published source, holding zero or more protocol Targets
// (WebRTC/RTC, RTSP, SRT) and cascading publish/unpublish/frame
// events to each.
package bridge

import (
	"sync"

	"github.com/docterling/rtmp-bridge-server/internal/media"
)

// Target is one protocol-specific output attached to a Bridge. A
// concrete Target wraps the rtpbuilder packetizers (for RTC), a TS muxer
// (for SRT-direct egress), or forwards MediaPacket untouched.
type Target interface {
	OnPublish()
	OnFrame(media.Packet)
	OnUnpublish()
	Close()
}

// Bridge fans one source's media out to every attached protocol
// Target, matching spec.md C9's initialize/on_publish/on_frame/
// on_unpublish/empty contract. It is idempotent on double-publish and
// double-unpublish.
type Bridge struct {
	mu         sync.Mutex
	targets    map[string]Target
	publishing bool
}

// New returns an empty Bridge with no targets attached.
func New() *Bridge {
	return &Bridge{targets: make(map[string]Target)}
}

// AddTarget attaches a named Target (e.g. "rtc", "rtsp", "srt"). If
// the bridge is already publishing, the target's OnPublish fires
// immediately so a target added mid-stream doesn't miss the publish
// transition.
func (b *Bridge) AddTarget(name string, t Target) {
	b.mu.Lock()
	b.targets[name] = t
	publishing := b.publishing
	b.mu.Unlock()

	if publishing {
		t.OnPublish()
	}
}

// RemoveTarget detaches and closes a named target.
func (b *Bridge) RemoveTarget(name string) {
	b.mu.Lock()
	t, ok := b.targets[name]
	delete(b.targets, name)
	b.mu.Unlock()

	if ok {
		t.Close()
	}
}

// OnPublish cascades to every attached target. A no-op if already
// publishing.
func (b *Bridge) OnPublish() {
	b.mu.Lock()
	if b.publishing {
		b.mu.Unlock()
		return
	}
	b.publishing = true
	targets := b.snapshotLocked()
	b.mu.Unlock()

	for _, t := range targets {
		t.OnPublish()
	}
}

// OnFrame fans one media packet out to every attached target. The
// caller hands its reference to p over to OnFrame: each target gets its
// own reference via p.Copy(), and OnFrame releases the caller's
// reference itself.
func (b *Bridge) OnFrame(p media.Packet) {
	b.mu.Lock()
	targets := b.snapshotLocked()
	b.mu.Unlock()

	for _, t := range targets {
		t.OnFrame(p.Copy())
	}
	p.Release()
}

// OnUnpublish cascades to every attached target and empties the
// bridge. A no-op if not currently publishing.
func (b *Bridge) OnUnpublish() {
	b.mu.Lock()
	if !b.publishing {
		b.mu.Unlock()
		return
	}
	b.publishing = false
	targets := b.snapshotLocked()
	b.targets = make(map[string]Target)
	b.mu.Unlock()

	for _, t := range targets {
		t.OnUnpublish()
	}
}

// Empty reports whether this bridge has no attached targets.
func (b *Bridge) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.targets) == 0
}

func (b *Bridge) snapshotLocked() []Target {
	out := make([]Target, 0, len(b.targets))
	for _, t := range b.targets {
		out = append(out, t)
	}
	return out
}
