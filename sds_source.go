package livescope

import (
	"context"
	"fmt"
)

// SDSSource is a DataSource producing live waveforms from a Siglent SDS
// oscilloscope. It cycles over its channels, one paced fetch per call, and
// tags each packet with the channel it came from, in request order.
type SDSSource struct {
	// Raw skips the calibration queries and hands out undecoded display
	// codes in Packet.Raw, saving two round trips per fetch. Set before
	// the loop starts.
	Raw bool

	sds      *SDS
	channels []int
	next     int
}

// NewSDSSource creates a source cycling over the given 1-based channels.
func NewSDSSource(sds *SDS, channels []int) (*SDSSource, error) {
	if sds == nil {
		return nil, fmt.Errorf("%w: nil SDS driver", ErrConfiguration)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: no channels to acquire", ErrConfiguration)
	}
	for _, ch := range channels {
		if err := validChannel(ch); err != nil {
			return nil, err
		}
	}
	return &SDSSource{sds: sds, channels: append([]int(nil), channels...)}, nil
}

// Channels returns the acquisition cycle in request order.
func (s *SDSSource) Channels() []int {
	return append([]int(nil), s.channels...)
}

// Fetch obtains the next channel's waveform. The pacer inside the SDS
// driver spaces each request against the instrument's acquisition cadence.
func (s *SDSSource) Fetch(ctx context.Context) (Packet, error) {
	ch := s.channels[s.next]
	s.next = (s.next + 1) % len(s.channels)

	if s.Raw {
		if !s.sds.Pacer().Valid() {
			tdiv, err := s.sds.TimeDiv(ctx)
			if err != nil {
				return Packet{}, err
			}
			s.sds.Pacer().SetSweep(tdiv, s.sds.Divisions())
		}
		if err := s.sds.Pacer().Wait(ctx); err != nil {
			return Packet{}, err
		}
		raw, err := s.sds.RawWave(ctx, ch)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Chan: ch, Raw: raw}, nil
	}

	wf, err := s.sds.Wave(ctx, ch)
	if err != nil {
		return Packet{}, err
	}
	return Packet{Chan: ch, Wave: wf}, nil
}

// Yields reports true: every fetch suspends on network I/O, and usually on
// the pacing wait as well.
func (s *SDSSource) Yields() bool { return true }

// Close ends the instrument session.
func (s *SDSSource) Close() error { return s.sds.Close() }
