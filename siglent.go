package livescope

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// SDSDivisions is the number of horizontal divisions on the SDS display.
// Together with the timebase it bounds how fast new waveform data can exist.
const SDSDivisions = 14

// DefaultSDSPort is the SCPI port the SDS series listens on.
const DefaultSDSPort = 5025

// Timebase lookup: seconds per division and the SCPI mnemonic for each
// setting the SDS1000/SDS2000X/SDS2000X-E series accepts.
var sdsTimebases = []float64{
	200e-12, 500e-12,
	1e-9, 2e-9, 5e-9, 10e-9, 20e-9, 50e-9, 100e-9, 200e-9, 500e-9,
	1e-6, 2e-6, 5e-6, 10e-6, 20e-6, 50e-6, 100e-6, 200e-6, 500e-6,
	1e-3, 2e-3, 5e-3, 10e-3, 20e-3, 50e-3, 100e-3, 200e-3, 500e-3,
	1, 2, 5, 10, 20, 50, 100,
}

var sdsTimebaseMnemonics = []string{
	"200PS", "500PS",
	"1NS", "2NS", "5NS", "10NS", "20NS", "50NS", "100NS", "200NS", "500NS",
	"1US", "2US", "5US", "10US", "20US", "50US", "100US", "200US", "500US",
	"1MS", "2MS", "5MS", "10MS", "20MS", "50MS", "100MS", "200MS", "500MS",
	"1S", "2S", "5S", "10S", "20S", "50S", "100S",
}

// SDS drives a Siglent SDS1000/SDS2000X/SDS2000X-E series oscilloscope over
// a line-oriented SCPI session. Only tested against the SDS1202X-E. See the
// "SDS1000 Series & SDS2000X & SDS2000X-E Programming Guide" (PG01-E02D).
type SDS struct {
	client *SCPIClient
	pacer  *RequestPacer
}

// NewSDS wraps an SCPI session as an SDS driver. pacingFactor <= 0 selects
// DefaultPacingFactor.
func NewSDS(client *SCPIClient, pacingFactor float64) *SDS {
	return &SDS{
		client: client,
		pacer:  NewRequestPacer(pacingFactor),
	}
}

// Pacer exposes the fetch pacer, e.g. to invalidate it after out-of-band
// timebase changes.
func (s *SDS) Pacer() *RequestPacer { return s.pacer }

// Divisions returns the number of horizontal divisions, 14 for this series.
func (s *SDS) Divisions() int { return SDSDivisions }

// Close ends the SCPI session.
func (s *SDS) Close() error { return s.client.Close() }

func chanName(ch int) string { return fmt.Sprintf("C%d", ch) }

func validChannel(ch int) error {
	if ch < 1 || ch > 4 {
		return fmt.Errorf("%w: channel %d out of range 1..4", ErrConfiguration, ch)
	}
	return nil
}

// floatPayload extracts the numeric payload of a response like
// "C1:VDIV 2.00E-01V", skipping the echoed header and dropping trailing
// unit characters.
func floatPayload(resp string, skip, drop int) (float64, error) {
	if len(resp) < skip+drop {
		return 0, fmt.Errorf("short response %q", resp)
	}
	return strconv.ParseFloat(resp[skip:len(resp)-drop], 64)
}

// stringPayload extracts the text payload after the echoed header, erroring
// on truncated responses rather than slicing past the end.
func stringPayload(resp string, skip int) (string, error) {
	if len(resp) <= skip {
		return "", fmt.Errorf("short response %q", resp)
	}
	return resp[skip:], nil
}

// TimeDiv queries the horizontal timebase in seconds per division.
// A 10 ms timebase answers "TDIV 1.00E-02S".
func (s *SDS) TimeDiv(ctx context.Context) (float64, error) {
	resp, err := s.client.AskContext(ctx, "TIME_DIV?")
	if err != nil {
		return 0, err
	}
	return floatPayload(resp, 5, 1)
}

// SetTimebase sets the timebase by SCPI mnemonic ("10US", "2MS", ...) and
// invalidates the pacer so the next fetch requeries the sweep.
func (s *SDS) SetTimebase(ctx context.Context, mnemonic string) error {
	found := false
	for _, m := range sdsTimebaseMnemonics {
		if m == mnemonic {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: unknown timebase %q", ErrConfiguration, mnemonic)
	}
	if err := s.client.SendContext(ctx, "TDIV "+mnemonic); err != nil {
		return err
	}
	s.pacer.Invalidate()
	return nil
}

// SetTimebaseAtLeast sets the timebase to the first available setting
// larger than secsPerDiv.
func (s *SDS) SetTimebaseAtLeast(ctx context.Context, secsPerDiv float64) error {
	for i, tb := range sdsTimebases {
		if tb > secsPerDiv {
			return s.SetTimebase(ctx, sdsTimebaseMnemonics[i])
		}
	}
	return fmt.Errorf("%w: no timebase above %g s/div", ErrConfiguration, secsPerDiv)
}

// VoltsDiv queries the vertical sensitivity of a channel in volts per
// division ("C1:VDIV 2.00E-01V").
func (s *SDS) VoltsDiv(ctx context.Context, ch int) (float64, error) {
	if err := validChannel(ch); err != nil {
		return 0, err
	}
	resp, err := s.client.AskContext(ctx, chanName(ch)+":VDIV?")
	if err != nil {
		return 0, err
	}
	return floatPayload(resp, 8, 1)
}

// Offset queries the vertical offset of a channel in volts
// ("C1:OFST 0.00E+00V").
func (s *SDS) Offset(ctx context.Context, ch int) (float64, error) {
	if err := validChannel(ch); err != nil {
		return 0, err
	}
	resp, err := s.client.AskContext(ctx, chanName(ch)+":OFFSET?")
	if err != nil {
		return 0, err
	}
	return floatPayload(resp, 8, 1)
}

// RawWave fetches the current waveform of a channel as raw display codes.
// The block answer to "Cn:WF? DAT2" is a 22-byte header whose last 9 bytes
// give the payload size in ASCII decimal, then the payload, then a 2-byte
// terminator (Programming Guide p. 264). RawWave does not pace; use it only
// through Wave or apply the pacer yourself.
func (s *SDS) RawWave(ctx context.Context, ch int) ([]byte, error) {
	if err := validChannel(ch); err != nil {
		return nil, err
	}
	var wave []byte
	err := s.client.Exchange(ctx, chanName(ch)+":WF? DAT2", func(r *bufio.Reader) error {
		header := make([]byte, 22)
		if _, err := io.ReadFull(r, header); err != nil {
			return err
		}
		digits := strings.TrimLeft(string(header[13:22]), "0 ")
		size := 0
		if digits != "" {
			var err error
			if size, err = strconv.Atoi(digits); err != nil {
				return fmt.Errorf("bad block header %q: %v", header, err)
			}
		}
		wave = make([]byte, size)
		if _, err := io.ReadFull(r, wave); err != nil {
			return err
		}
		// The instrument terminates the block with two newline bytes that
		// are not counted in the size field.
		var term [2]byte
		_, err = io.ReadFull(r, term[:])
		return err
	})
	if err != nil {
		return nil, err
	}
	return wave, nil
}

// Wave fetches one calibrated waveform from a channel, pacing the request
// against the instrument's acquisition cadence. The sweep parameters are
// queried once and cached in the pacer until invalidated.
func (s *SDS) Wave(ctx context.Context, ch int) (Waveform, error) {
	if !s.pacer.Valid() {
		tdiv, err := s.TimeDiv(ctx)
		if err != nil {
			return Waveform{}, err
		}
		s.pacer.SetSweep(tdiv, s.Divisions())
	}
	if err := s.pacer.Wait(ctx); err != nil {
		return Waveform{}, err
	}

	raw, err := s.RawWave(ctx, ch)
	if err != nil {
		return Waveform{}, err
	}
	vdiv, err := s.VoltsDiv(ctx, ch)
	if err != nil {
		return Waveform{}, err
	}
	offs, err := s.Offset(ctx, ch)
	if err != nil {
		return Waveform{}, err
	}

	// Display codes are signed bytes; 25 codes make one vertical division.
	v := make([]float64, len(raw))
	for i, b := range raw {
		v[i] = float64(int8(b))*vdiv/25 - offs
	}
	wf := Waveform{V: v}
	if tdiv, divs := s.pacer.Sweep(); len(v) > 0 && divs > 0 {
		wf.Dt = tdiv * float64(divs) / float64(len(v))
	}
	return wf, nil
}

// MemorySize queries the acquisition memory depth in points.
func (s *SDS) MemorySize(ctx context.Context) (int, error) {
	resp, err := s.client.AskContext(ctx, "MEMORY_SIZE?")
	if err != nil {
		return 0, err
	}
	if len(resp) <= 5 {
		return 0, fmt.Errorf("short response %q", resp)
	}
	switch resp[5:] {
	case "14K":
		return 14_000, nil
	case "140K":
		return 140_000, nil
	case "1.4M":
		return 1_400_000, nil
	case "14M":
		return 14_000_000, nil
	}
	return 0, fmt.Errorf("unknown memory size %q", resp)
}

// AcquireSettings queries the sampling mode ("SAMPLING", "PEAK_DETECT",
// "AVERAGE,16", "HIGH_RES") and the sample rate in samples per second.
func (s *SDS) AcquireSettings(ctx context.Context) (mode string, sampleRate float64, err error) {
	resp, err := s.client.AskContext(ctx, "ACQW?")
	if err != nil {
		return "", 0, err
	}
	if len(resp) <= 5 {
		return "", 0, fmt.Errorf("short response %q", resp)
	}
	mode = resp[5:]

	// "SARA 1.00E+09Sa/s"
	resp, err = s.client.AskContext(ctx, "SARA?")
	if err != nil {
		return "", 0, err
	}
	sampleRate, err = floatPayload(resp, 5, 4)
	return mode, sampleRate, err
}

// ChannelSettings holds the vertical configuration of one channel.
type ChannelSettings struct {
	Attenuation int     // probe attenuation: 1, 10, 100, ...
	Bandwidth   bool    // bandwidth limit engaged
	Coupling    string  // "AC", "DC" or "GND"
	Offset      float64 // volts
	Skew        float64 // seconds
	TraceOn     bool
	Unit        string // "V" or "A"
	VoltsPerDiv float64
	Inverted    bool
}

// ChannelSettings queries the full vertical configuration of a channel.
// This takes nine round trips; it is not quick.
func (s *SDS) ChannelSettings(ctx context.Context, ch int) (ChannelSettings, error) {
	var cs ChannelSettings
	if err := validChannel(ch); err != nil {
		return cs, err
	}
	name := chanName(ch)

	resp, err := s.client.AskContext(ctx, name+":ATTENUATION?")
	if err != nil {
		return cs, err
	}
	field, err := stringPayload(resp, 8)
	if err != nil {
		return cs, err
	}
	if cs.Attenuation, err = strconv.Atoi(field); err != nil {
		return cs, fmt.Errorf("bad attenuation %q: %v", resp, err)
	}

	if resp, err = s.client.AskContext(ctx, name+":BANDWIDTH_LIMIT?"); err != nil {
		return cs, err
	}
	if field, err = stringPayload(resp, 7); err != nil {
		return cs, err
	}
	cs.Bandwidth = field == "ON"

	// A1M/A50 = AC at 1MΩ/50Ω input, D1M/D50 = DC, GND = grounded.
	if resp, err = s.client.AskContext(ctx, name+":COUPLING?"); err != nil {
		return cs, err
	}
	if field, err = stringPayload(resp, 7); err != nil {
		return cs, err
	}
	switch field {
	case "A1M", "A50":
		cs.Coupling = "AC"
	case "D1M", "D50":
		cs.Coupling = "DC"
	case "GND":
		cs.Coupling = "GND"
	default:
		return cs, fmt.Errorf("unknown coupling %q", resp)
	}

	if resp, err = s.client.AskContext(ctx, name+":OFFSET?"); err != nil {
		return cs, err
	}
	if cs.Offset, err = floatPayload(resp, 8, 1); err != nil {
		return cs, err
	}

	if resp, err = s.client.AskContext(ctx, name+":SKEW?"); err != nil {
		return cs, err
	}
	if cs.Skew, err = floatPayload(resp, 8, 1); err != nil {
		return cs, err
	}

	if resp, err = s.client.AskContext(ctx, name+":TRACE?"); err != nil {
		return cs, err
	}
	if field, err = stringPayload(resp, 7); err != nil {
		return cs, err
	}
	cs.TraceOn = field == "ON"

	if resp, err = s.client.AskContext(ctx, name+":UNIT?"); err != nil {
		return cs, err
	}
	if cs.Unit, err = stringPayload(resp, 8); err != nil {
		return cs, err
	}

	if resp, err = s.client.AskContext(ctx, name+":VDIV?"); err != nil {
		return cs, err
	}
	if cs.VoltsPerDiv, err = floatPayload(resp, 8, 1); err != nil {
		return cs, err
	}

	if resp, err = s.client.AskContext(ctx, name+":INVS?"); err != nil {
		return cs, err
	}
	if field, err = stringPayload(resp, 8); err != nil {
		return cs, err
	}
	cs.Inverted = field == "ON"

	return cs, nil
}

// Settings aggregates the instrument-wide configuration.
type Settings struct {
	Timebase   float64 // seconds per division
	MemorySize int     // points
	AcqMode    string
	SampleRate float64 // samples per second
	Channels   map[int]ChannelSettings
}

// Settings collects timebase, memory, acquisition and per-channel vertical
// settings for the given channels.
func (s *SDS) Settings(ctx context.Context, channels []int) (Settings, error) {
	set := Settings{Channels: make(map[int]ChannelSettings)}
	var err error
	if set.Timebase, err = s.TimeDiv(ctx); err != nil {
		return set, err
	}
	if set.MemorySize, err = s.MemorySize(ctx); err != nil {
		return set, err
	}
	if set.AcqMode, set.SampleRate, err = s.AcquireSettings(ctx); err != nil {
		return set, err
	}
	for _, ch := range channels {
		if set.Channels[ch], err = s.ChannelSettings(ctx, ch); err != nil {
			return set, err
		}
	}
	return set, nil
}

// String renders the settings as printable text.
func (s Settings) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Timebase = %g s/div\n", s.Timebase)
	fmt.Fprintf(&b, "Memory Depth = %d points\n", s.MemorySize)
	fmt.Fprintf(&b, "Acquire = %s\n", s.AcqMode)
	fmt.Fprintf(&b, "Samplerate = %g Sa/s\n", s.SampleRate)
	chans := make([]int, 0, len(s.Channels))
	for ch := range s.Channels {
		chans = append(chans, ch)
	}
	sort.Ints(chans)
	for _, ch := range chans {
		cs := s.Channels[ch]
		fmt.Fprintf(&b, "\nChannel %d\n---------\n", ch)
		fmt.Fprintf(&b, "Attenuation = %dx\n", cs.Attenuation)
		fmt.Fprintf(&b, "Bandwidth limited = %t\n", cs.Bandwidth)
		fmt.Fprintf(&b, "Coupling = %s\n", cs.Coupling)
		fmt.Fprintf(&b, "Offset = %g V\n", cs.Offset)
		fmt.Fprintf(&b, "Skew = %g s\n", cs.Skew)
		fmt.Fprintf(&b, "Trace = %t\n", cs.TraceOn)
		fmt.Fprintf(&b, "Unit = %s\n", cs.Unit)
		fmt.Fprintf(&b, "V/div = %g\n", cs.VoltsPerDiv)
		fmt.Fprintf(&b, "Inverted = %t\n", cs.Inverted)
	}
	return b.String()
}

// StopAcquisition halts the instrument's own acquisition. The series has no
// documented SCPI command to restart it remotely.
func (s *SDS) StopAcquisition(ctx context.Context) error {
	return s.client.SendContext(ctx, "STOP")
}
