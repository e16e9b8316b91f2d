package livescope

import "time"

// NoChannel tags a packet whose source has no notion of instrument channels.
const NoChannel = -1

// Waveform is a uniformly sampled voltage record.
type Waveform struct {
	Dt float64   // sample spacing in seconds
	V  []float64 // samples in volts
}

// Duration returns the time span covered by the waveform.
func (w Waveform) Duration() float64 {
	return w.Dt * float64(len(w.V))
}

// Packet is one unit of acquired data. A packet is immutable once it has
// been enqueued; the consumer owns it after dequeue.
//
// Exactly one of Wave and Raw is normally populated: Wave for decoded
// waveforms, Raw for payloads the source hands over undecoded.
type Packet struct {
	Chan int       // originating instrument channel, or NoChannel
	Time time.Time // set by the loop when timestamping is enabled; else zero
	Wave Waveform
	Raw  []byte
}
