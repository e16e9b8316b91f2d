package livescope

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	zmq "github.com/pebbe/zmq4"
)

// PublishPackets forwards every packet from its input channel to a ZMQ PUB
// socket bound on portnum, two frames per packet: a topic frame naming the
// instrument channel and a binary payload frame. It returns when the input
// channel closes or abort is closed.
//
// Publishing sits strictly downstream of the FIFO; it is a consumer, never
// part of the acquisition path.
func PublishPackets(packets <-chan Packet, abort <-chan struct{}, portnum int) error {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return err
	}
	defer pubSocket.Close()
	if err := pubSocket.Bind(fmt.Sprintf("tcp://*:%d", portnum)); err != nil {
		return err
	}

	for {
		select {
		case <-abort:
			return nil
		case pkt, ok := <-packets:
			if !ok {
				return nil
			}
			topic := "WAVE"
			if pkt.Chan != NoChannel {
				topic = fmt.Sprintf("CHAN%d", pkt.Chan)
			}
			if _, err := pubSocket.Send(topic, zmq.SNDMORE); err != nil {
				ProblemLogger.Printf("packet publish failed: %v", err)
				continue
			}
			if _, err := pubSocket.SendBytes(encodePacket(pkt), 0); err != nil {
				ProblemLogger.Printf("packet publish failed: %v", err)
			}
		}
	}
}

// encodePacket renders a packet as a little-endian binary frame:
// int32 channel, int64 unix-nanosecond timestamp (0 if unstamped),
// float64 sample spacing, uint32 sample count, then either the float64
// samples or the raw payload bytes.
func encodePacket(pkt Packet) []byte {
	n := len(pkt.Wave.V)
	buf := make([]byte, 0, 24+8*n+len(pkt.Raw))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(pkt.Chan)))
	var stamp int64
	if !pkt.Time.IsZero() {
		stamp = pkt.Time.UnixNano()
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(stamp))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(pkt.Wave.Dt))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n))
	for _, v := range pkt.Wave.V {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	buf = append(buf, pkt.Raw...)
	return buf
}

// StatusUpdate carries one tagged message for the status port.
type StatusUpdate struct {
	Tag     string
	Message []byte
}

// RunStatusPublisher forwards any message from its input channel to the ZMQ
// status socket, so clients can follow loop state and throughput without
// subscribing to the full data stream.
func RunStatusPublisher(updates <-chan StatusUpdate, portnum int) {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		ProblemLogger.Printf("status publisher unavailable: %v", err)
		return
	}
	defer pubSocket.Close()
	if err := pubSocket.Bind(fmt.Sprintf("tcp://*:%d", portnum)); err != nil {
		ProblemLogger.Printf("status publisher unavailable: %v", err)
		return
	}

	for update := range updates {
		pubSocket.Send(update.Tag, zmq.SNDMORE)
		pubSocket.SendBytes(update.Message, 0)
	}
}

// RateStatusSink adapts the status channel into a RateReporter sink. Sends
// never block: when the status channel is full the observation is dropped,
// keeping the reporter off the data path no matter how slow the publisher.
func RateStatusSink(updates chan<- StatusUpdate) func(Rate) {
	return func(r Rate) {
		msg, err := json.Marshal(r)
		if err != nil {
			return
		}
		select {
		case updates <- StatusUpdate{Tag: "RATE", Message: msg}:
		default:
		}
	}
}
