package bridge

import "github.com/docterling/rtmp-bridge-server/internal/media"

// RTMPForwarder is the subset of internal/source.Source a
// PassthroughTarget drives, kept as an interface so this package
// doesn't import internal/source (which would create a cycle once
// internal/rtmp/session wires a BridgeFactory built from both).
type RTMPForwarder interface {
	BeginPublish()
	PublishFrame(media.Packet)
	EndPublish()
}

// PassthroughTarget is the SRT-only direct-RTMP bridge target (C9):
// when an SRT source's bridge has a plain RTMP target enabled (no
// codec conversion needed, since the SRT->RTMP demux already produced
// FLV-framed frames), frames are forwarded unchanged into another
// Source rather than re-encoded.
type PassthroughTarget struct {
	dest      RTMPForwarder
	publishing bool
}

// NewPassthroughTarget returns a Target that forwards frames
// unchanged into dest.
func NewPassthroughTarget(dest RTMPForwarder) *PassthroughTarget {
	return &PassthroughTarget{dest: dest}
}

// OnPublish begins publishing into dest.
func (t *PassthroughTarget) OnPublish() {
	if t.publishing {
		return
	}
	t.publishing = true
	t.dest.BeginPublish()
}

// OnFrame forwards p into dest, taking its own reference and
// releasing the one it was handed.
func (t *PassthroughTarget) OnFrame(p media.Packet) {
	t.dest.PublishFrame(p.Copy())
	p.Release()
}

// OnUnpublish ends publishing on dest.
func (t *PassthroughTarget) OnUnpublish() {
	if !t.publishing {
		return
	}
	t.publishing = false
	t.dest.EndPublish()
}

// Close is a no-op; the destination Source's lifetime is owned by the
// registry, not this target.
func (t *PassthroughTarget) Close() {}
