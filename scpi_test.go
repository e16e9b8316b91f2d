package livescope

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// stubInstrument fakes the SDS SCPI endpoint: one command per connection,
// one response line per query, nothing for bare commands, and a framed
// binary block for waveform requests. The real firmware likewise drops the
// connection after each exchange.
type stubInstrument struct {
	ln        net.Listener
	responses map[string]string
	wave      []byte

	mu       sync.Mutex
	commands []string
}

func newStubInstrument(t *testing.T, responses map[string]string, wave []byte) *stubInstrument {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &stubInstrument{ln: ln, responses: responses, wave: wave}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *stubInstrument) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *stubInstrument) handle(conn net.Conn) {
	defer conn.Close()
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	cmd := strings.TrimSpace(line)
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()

	switch {
	case strings.HasSuffix(cmd, ":WF? DAT2"):
		// 13-byte preamble, 9 ASCII digits of size, payload, 2-byte term.
		header := fmt.Sprintf("%s DAT2,#9%09d", cmd[:5], len(s.wave))
		conn.Write([]byte(header))
		conn.Write(s.wave)
		conn.Write([]byte("\n\n"))
	case strings.HasSuffix(cmd, "?"):
		if resp, ok := s.responses[cmd]; ok {
			fmt.Fprintf(conn, "%s\n", resp)
		} else {
			fmt.Fprintf(conn, "ECHO %s\n", cmd)
		}
	default:
		// Commands elicit no response.
	}
}

func (s *stubInstrument) hostPort(t *testing.T) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(s.ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func (s *stubInstrument) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func TestSCPIAsk(t *testing.T) {
	stub := newStubInstrument(t, map[string]string{
		"*IDN?": "Siglent Technologies,SDS1202X-E,0,7.6.1.15",
	}, nil)
	client := NewSCPIClient(stub.hostPort(t))

	idn, err := client.Ask("*IDN?")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "Siglent Technologies,SDS1202X-E,0,7.6.1.15", idn)
}

func TestSCPISendElicitsNoResponse(t *testing.T) {
	stub := newStubInstrument(t, nil, nil)
	client := NewSCPIClient(stub.hostPort(t))

	if err := client.Send("STOP"); err != nil {
		t.Fatal(err)
	}
	// A query afterward still works, proving the session is not wedged.
	resp, err := client.Ask("PING?")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "ECHO PING?", resp)
	assert.Equal(t, []string{"STOP", "PING?"}, stub.received())
}

// Query A then query B must return A's response first and B's second,
// never swapped.
func TestSCPIQueryOrdering(t *testing.T) {
	stub := newStubInstrument(t, map[string]string{
		"A?": "alpha",
		"B?": "beta",
	}, nil)
	client := NewSCPIClient(stub.hostPort(t))

	ra, err := client.Ask("A?")
	if err != nil {
		t.Fatal(err)
	}
	rb, err := client.Ask("B?")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "alpha", ra)
	assert.Equal(t, "beta", rb)
}

// Concurrent callers serialize on the session: every query gets its own
// response, never a neighbor's.
func TestSCPIConcurrentQueriesDoNotInterleave(t *testing.T) {
	stub := newStubInstrument(t, nil, nil)
	client := NewSCPIClient(stub.hostPort(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := fmt.Sprintf("Q%d?", i)
			for j := 0; j < 20; j++ {
				resp, err := client.Ask(cmd)
				if err != nil {
					t.Errorf("Ask(%s): %v", cmd, err)
					return
				}
				if resp != "ECHO "+cmd {
					t.Errorf("Ask(%s) = %q", cmd, resp)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestSCPIConnectionRefused(t *testing.T) {
	// Grab a port and close it again so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close()

	client := NewSCPIClient(host, port)
	_, err = client.Ask("*IDN?")
	assert.ErrorIs(t, err, ErrConnection)
}

func TestSerialSCPIClientConfig(t *testing.T) {
	_, err := NewSerialSCPIClient("", 0)
	assert.ErrorIs(t, err, ErrConfiguration)

	client, err := NewSerialSCPIClient("/dev/ttyUSB0", 0)
	assert.NoError(t, err)
	assert.NotNil(t, client)
}
