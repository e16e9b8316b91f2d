package livescope

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// serialTransport speaks the same line protocol over a serial port, for
// instruments attached by USB-CDC rather than ethernet. Unlike the TCP
// transport it opens its device once and reuses it for every exchange.
type serialTransport struct {
	device string
	mode   *serial.Mode

	once sync.Once
	port serial.Port
	err  error
}

func (t *serialTransport) open(ctx context.Context) (io.ReadWriter, func(), error) {
	t.once.Do(func() {
		t.port, t.err = serial.Open(t.device, t.mode)
	})
	if t.err != nil {
		return nil, nil, t.err
	}
	return t.port, func() {}, nil
}

func (t *serialTransport) Close() error {
	if t.port == nil {
		return nil
	}
	return t.port.Close()
}

// NewSerialSCPIClient returns a client for an instrument on a serial device
// such as /dev/ttyUSB0. A baud of 0 selects 115200 8N1.
func NewSerialSCPIClient(device string, baud int) (*SCPIClient, error) {
	if device == "" {
		return nil, fmt.Errorf("%w: empty serial device name", ErrConfiguration)
	}
	if baud == 0 {
		baud = 115200
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return &SCPIClient{tr: &serialTransport{device: device, mode: mode}}, nil
}
