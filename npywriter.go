package livescope

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sbinet/npyio"
)

// NPYWriter is a packet consumer that saves each waveform to its own NumPy
// .npy file, so acquired data drop straight into the analysis tools that
// live downstream of this library.
type NPYWriter struct {
	dir    string
	prefix string
	seq    int
}

// NewNPYWriter creates the output directory if needed and returns a writer
// naming files prefix_000000_c1.npy, prefix_000001_c2.npy, ...
func NewNPYWriter(dir, prefix string) (*NPYWriter, error) {
	if prefix == "" {
		return nil, fmt.Errorf("%w: empty NPY file prefix", ErrConfiguration)
	}
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, err
	}
	return &NPYWriter{dir: dir, prefix: prefix}, nil
}

// WritePacket saves one packet. Calibrated waveforms are written as float64
// arrays; raw payloads as int8 display codes.
func (w *NPYWriter) WritePacket(pkt Packet) error {
	name := fmt.Sprintf("%s_%06d", w.prefix, w.seq)
	if pkt.Chan != NoChannel {
		name = fmt.Sprintf("%s_c%d", name, pkt.Chan)
	}
	w.seq++

	f, err := os.Create(filepath.Join(w.dir, name+".npy"))
	if err != nil {
		return err
	}
	defer f.Close()

	if pkt.Raw != nil {
		codes := make([]int8, len(pkt.Raw))
		for i, b := range pkt.Raw {
			codes[i] = int8(b)
		}
		return npyio.Write(f, codes)
	}
	return npyio.Write(f, pkt.Wave.V)
}
