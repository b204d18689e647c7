// Package framebuilder reconstructs RTMP media packets from inbound
// RTP (C11): a per-SSRC jitter buffer reorders packets by sequence
// number and dispatches access units on marker-bit boundaries to the
// H.264/HEVC/AAC/Opus reassemblers.
package framebuilder

import (
	"sort"

	"github.com/pion/rtp"
)

// JitterBuffer reorders RTP packets for one SSRC by sequence number,
// releasing an access unit's packets (in order) once a marker-bit
// packet has been seen and every packet up to it has arrived, or once
// the buffer has grown past MaxSize (forcing a release to bound
// memory against a packet that never arrives).
type JitterBuffer struct {
	MaxSize int

	packets map[uint16]*rtp.Packet
	lowest  uint16
	hasLowest bool
}

// NewJitterBuffer returns a buffer bounding reorder depth to maxSize
// packets.
func NewJitterBuffer(maxSize int) *JitterBuffer {
	return &JitterBuffer{MaxSize: maxSize, packets: make(map[uint16]*rtp.Packet)}
}

// Push inserts pkt and returns any newly-complete access units
// (each a sequence-ordered slice of packets ending in a marker
// packet) now ready for dispatch.
func (j *JitterBuffer) Push(pkt *rtp.Packet) [][]*rtp.Packet {
	j.packets[pkt.SequenceNumber] = pkt
	if !j.hasLowest || seqLess(pkt.SequenceNumber, j.lowest) {
		j.lowest = pkt.SequenceNumber
		j.hasLowest = true
	}

	var units [][]*rtp.Packet
	for {
		unit, ok := j.tryDrainOne()
		if !ok {
			break
		}
		units = append(units, unit)
	}

	if len(j.packets) > j.MaxSize {
		units = append(units, j.forceDrainOldest())
	}

	return units
}

// tryDrainOne attempts to pull one contiguous run starting at
// j.lowest up through (and including) the next marker packet.
func (j *JitterBuffer) tryDrainOne() ([]*rtp.Packet, bool) {
	if !j.hasLowest {
		return nil, false
	}

	var run []*rtp.Packet
	seq := j.lowest
	for {
		p, ok := j.packets[seq]
		if !ok {
			return nil, false
		}
		run = append(run, p)
		if p.Marker {
			for _, rp := range run {
				delete(j.packets, rp.SequenceNumber)
			}
			j.lowest = seq + 1
			j.hasLowest = len(j.packets) > 0
			if j.hasLowest {
				j.recomputeLowest()
			}
			return run, true
		}
		seq++
		if len(run) > j.MaxSize {
			return nil, false
		}
	}
}

// forceDrainOldest releases every queued packet, contiguous or not,
// in sequence order, used when a gap never closes (a packet was lost)
// so the buffer doesn't grow unbounded.
func (j *JitterBuffer) forceDrainOldest() []*rtp.Packet {
	seqs := make([]uint16, 0, len(j.packets))
	for s := range j.packets {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(a, b int) bool { return seqLess(seqs[a], seqs[b]) })

	var run []*rtp.Packet
	for _, s := range seqs {
		run = append(run, j.packets[s])
		delete(j.packets, s)
	}
	j.hasLowest = false
	return run
}

func (j *JitterBuffer) recomputeLowest() {
	first := true
	var lowest uint16
	for s := range j.packets {
		if first || seqLess(s, lowest) {
			lowest = s
			first = false
		}
	}
	j.lowest = lowest
	j.hasLowest = !first
}

// seqLess compares RTP sequence numbers respecting 16-bit wraparound.
func seqLess(a, b uint16) bool {
	return int16(a-b) < 0
}
