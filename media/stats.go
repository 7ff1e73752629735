package media

import "sync/atomic"

// engineCounters tracks per-engine traffic with lock-free counters so
// the hot encode/decode paths never contend with snapshot readers.
type engineCounters struct {
	packetsSent     atomic.Uint64
	bytesSent       atomic.Uint64
	keyFramesSent   atomic.Uint64
	packetsReceived atomic.Uint64
	bytesReceived   atomic.Uint64
	framesDecoded   atomic.Uint64
	sendDrops       atomic.Uint64
	malformed       atomic.Uint64
}

// Stats is a point-in-time snapshot of an engine's traffic counters.
type Stats struct {
	PacketsSent     uint64
	BytesSent       uint64
	KeyFramesSent   uint64
	PacketsReceived uint64
	BytesReceived   uint64
	FramesDecoded   uint64
	SendDrops       uint64
	Malformed       uint64
}

// Stats returns a snapshot of the engine's traffic counters.
func (e *Engine) Stats() Stats {
	return Stats{
		PacketsSent:     e.stats.packetsSent.Load(),
		BytesSent:       e.stats.bytesSent.Load(),
		KeyFramesSent:   e.stats.keyFramesSent.Load(),
		PacketsReceived: e.stats.packetsReceived.Load(),
		BytesReceived:   e.stats.bytesReceived.Load(),
		FramesDecoded:   e.stats.framesDecoded.Load(),
		SendDrops:       e.stats.sendDrops.Load(),
		Malformed:       e.stats.malformed.Load(),
	}
}
