package livescope

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// A bind failure must surface as a prompt error return, so the owner can
// keep the fanout drained instead of wedging on a channel nobody reads.
func TestPublishPacketsBindFailure(t *testing.T) {
	// Occupy a port so the PUB socket cannot bind it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	done := make(chan error, 1)
	go func() {
		done <- PublishPackets(make(chan Packet), nil, port)
	}()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("PublishPackets did not return on a failed bind")
	}
}
