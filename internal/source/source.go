// Package source implements the content-addressed stream registry
// (C7) and consumer fan-out (C8): one Source per protocol-qualified
// stream key, holding the last sequence headers, metadata, and a
// bounded GOP replay cache, fanning live packets out to any number of
// Consumers without per-packet copying.
package source

import (
	"sync"
	"time"

	"github.com/docterling/rtmp-bridge-server/internal/media"
)

// Source is one live published stream, keyed by a protocol-qualified
// path (e.g. "rtmp:/live/foo").
type Source struct {
	Key string

	mu         sync.RWMutex
	publishing bool

	metadata          media.Packet
	hasMetadata       bool
	audioSeqHeader    media.Packet
	hasAudioSeqHeader bool
	videoSeqHeader    media.Packet
	hasVideoSeqHeader bool

	gopCache       []media.Packet
	gopCacheBytes  int
	gopCacheLimit  int
	gopCacheEnable bool

	consumers map[*Consumer]struct{}

	// Bridge is an opaque hook invoked on publish/unpublish/frame by
	// internal/bridge, kept as an interface here to avoid a package
	// cycle (source must not import bridge).
	Bridge Bridge

	diesAt time.Time
}

// Bridge is the subset of internal/bridge.Bridge that a Source drives
// directly, without either package importing the other's concrete type.
type Bridge interface {
	OnPublish()
	OnUnpublish()
	OnFrame(media.Packet)
	Empty() bool
}

func newSource(key string, gopCacheLimit int) *Source {
	return &Source{
		Key:            key,
		consumers:      make(map[*Consumer]struct{}),
		gopCacheLimit:  gopCacheLimit,
		gopCacheEnable: gopCacheLimit > 0,
	}
}

// BeginPublish marks the source live, resetting any stale sequence
// headers/cache left by a prior publisher.
func (s *Source) BeginPublish() {
	s.mu.Lock()
	s.publishing = true
	s.hasMetadata = false
	s.hasAudioSeqHeader = false
	s.hasVideoSeqHeader = false
	s.gopCache = nil
	s.gopCacheBytes = 0
	s.mu.Unlock()

	if s.Bridge != nil {
		s.Bridge.OnPublish()
	}
}

// EndPublish marks the source idle and releases cached packets.
func (s *Source) EndPublish() {
	s.mu.Lock()
	s.publishing = false
	if s.hasMetadata {
		s.metadata.Release()
		s.hasMetadata = false
	}
	if s.hasAudioSeqHeader {
		s.audioSeqHeader.Release()
		s.hasAudioSeqHeader = false
	}
	if s.hasVideoSeqHeader {
		s.videoSeqHeader.Release()
		s.hasVideoSeqHeader = false
	}
	for _, p := range s.gopCache {
		p.Release()
	}
	s.gopCache = nil
	s.gopCacheBytes = 0
	s.mu.Unlock()

	if s.Bridge != nil {
		s.Bridge.OnUnpublish()
	}
}

// IsPublishing reports whether a publisher currently owns this source.
func (s *Source) IsPublishing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publishing
}

// SetMetadata replaces the cached onMetaData packet, fanning it out
// live to every current consumer.
func (s *Source) SetMetadata(p media.Packet) {
	s.mu.Lock()
	if s.hasMetadata {
		s.metadata.Release()
	}
	s.metadata = p.Copy()
	s.hasMetadata = true
	s.mu.Unlock()

	s.broadcast(p)
}

// PublishFrame accepts one audio/video media packet from the
// publisher: updates sequence-header/GOP-cache state, cascades to the
// bridge, and fans out to every consumer.
func (s *Source) PublishFrame(p media.Packet) {
	s.mu.Lock()
	if p.CodecHints.IsSequenceHeader {
		if p.IsAudio() {
			if s.hasAudioSeqHeader {
				s.audioSeqHeader.Release()
			}
			s.audioSeqHeader = p.Copy()
			s.hasAudioSeqHeader = true
		} else if p.IsVideo() {
			if s.hasVideoSeqHeader {
				s.videoSeqHeader.Release()
			}
			s.videoSeqHeader = p.Copy()
			s.hasVideoSeqHeader = true
		}
	} else if s.gopCacheEnable {
		s.appendGOPLocked(p)
	}
	s.mu.Unlock()

	if s.Bridge != nil {
		s.Bridge.OnFrame(p.Copy())
	}
	s.broadcast(p)
}

// appendGOPLocked appends p to the GOP cache, clearing it on a new
// keyframe and dropping the whole cache if it would exceed
// gopCacheLimit bytes (matching the teacher's size-bounded cache
// rather than a fixed frame count).
func (s *Source) appendGOPLocked(p media.Packet) {
	if p.IsVideo() && isKeyframe(p) {
		for _, old := range s.gopCache {
			old.Release()
		}
		s.gopCache = nil
		s.gopCacheBytes = 0
	}

	if s.gopCacheBytes+p.Len() > s.gopCacheLimit {
		for _, old := range s.gopCache {
			old.Release()
		}
		s.gopCache = nil
		s.gopCacheBytes = 0
		return
	}

	s.gopCache = append(s.gopCache, p.Copy())
	s.gopCacheBytes += p.Len()
}

func isKeyframe(p media.Packet) bool {
	if p.Len() == 0 {
		return false
	}
	return p.Bytes()[0]>>4 == 1
}

func (s *Source) broadcast(p media.Packet) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.consumers {
		if c.Handler != nil {
			c.Handler(p.Copy())
		} else {
			c.Enqueue(p.Copy())
		}
	}
}

// Subscribe registers c against this source and, if a publisher is
// live, primes it with the current metadata, sequence headers, and
// GOP cache — mirroring the teacher's StartPlayer/StartIdlePlayers
// priming sequence.
func (s *Source) Subscribe(c *Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consumers[c] = struct{}{}
	if !s.publishing {
		return
	}

	deliver := func(p media.Packet) {
		if c.Handler != nil {
			c.Handler(p.Copy())
		} else {
			c.Enqueue(p.Copy())
		}
	}

	if s.hasMetadata {
		deliver(s.metadata)
	}
	if s.hasAudioSeqHeader {
		deliver(s.audioSeqHeader)
	}
	if s.hasVideoSeqHeader {
		deliver(s.videoSeqHeader)
	}
	for _, p := range s.gopCache {
		deliver(p)
	}
}

// Unsubscribe removes c from this source's fan-out set and closes it.
func (s *Source) Unsubscribe(c *Consumer) {
	s.mu.Lock()
	delete(s.consumers, c)
	s.mu.Unlock()
	c.Close()
}

// Empty reports whether this source has no publisher and no consumers
// (eligible for sweeper cleanup).
func (s *Source) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.publishing && len(s.consumers) == 0
}
