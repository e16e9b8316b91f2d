package livescope

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
)

// readBufferSize must hold the largest single response the instrument can
// send in one exchange (a full deep-memory waveform block).
const readBufferSize = 1 << 20

// transport supplies the wire for one command/response exchange. The SDS
// firmware drops TCP connections between exchanges, so the TCP transport
// dials per exchange; the serial transport holds its port open.
type transport interface {
	open(ctx context.Context) (io.ReadWriter, func(), error)
	Close() error
}

type tcpTransport struct {
	addr string
}

func (t *tcpTransport) open(ctx context.Context) (io.ReadWriter, func(), error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	return conn, func() { conn.Close() }, nil
}

func (t *tcpTransport) Close() error { return nil }

// SCPIClient performs line-oriented ASCII exchanges with one instrument.
// The wire carries no request identifiers, so responses are matched to
// requests purely by program order; a mutex serializes callers to keep at
// most one request outstanding per session.
type SCPIClient struct {
	mu sync.Mutex
	tr transport
}

// NewSCPIClient returns a client for an instrument listening on host:port
// (the Siglent SDS series listens on port 5025).
func NewSCPIClient(host string, port int) *SCPIClient {
	return &SCPIClient{tr: &tcpTransport{addr: net.JoinHostPort(host, fmt.Sprint(port))}}
}

// Exchange sends one command and, when read is non-nil, lets read consume
// the response from the wire. The whole exchange happens under the session
// lock. All I/O failures are reported as ErrConnection.
func (c *SCPIClient) Exchange(ctx context.Context, cmd string, read func(*bufio.Reader) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rw, release, err := c.tr.open(ctx)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", ErrConnection, err)
	}
	defer release()

	if _, err := io.WriteString(rw, cmd+"\n"); err != nil {
		return fmt.Errorf("%w: send %q: %v", ErrConnection, cmd, err)
	}
	if read == nil {
		return nil
	}
	if err := read(bufio.NewReaderSize(rw, readBufferSize)); err != nil {
		return fmt.Errorf("%w: response to %q: %v", ErrConnection, cmd, err)
	}
	return nil
}

// SendContext issues a command that elicits no response.
func (c *SCPIClient) SendContext(ctx context.Context, cmd string) error {
	return c.Exchange(ctx, cmd, nil)
}

// Send is the synchronous form of SendContext.
func (c *SCPIClient) Send(cmd string) error {
	return c.SendContext(context.Background(), cmd)
}

// AskContext issues a query and returns its single response line with the
// trailing newline stripped.
func (c *SCPIClient) AskContext(ctx context.Context, cmd string) (string, error) {
	var line string
	err := c.Exchange(ctx, cmd, func(r *bufio.Reader) error {
		s, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(s, "\r\n")
		return nil
	})
	return line, err
}

// Ask is the synchronous form of AskContext.
func (c *SCPIClient) Ask(cmd string) (string, error) {
	return c.AskContext(context.Background(), cmd)
}

// Close releases any transport resources held between exchanges.
func (c *SCPIClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tr.Close()
}
