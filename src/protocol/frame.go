package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// -----------------------------------------------------------------------------
// Wire framing
//
// Every websocket binary message is one MessagePack-encoded frame:
//
//	{ "method": string, "seq": uint64, "body": bytes }
//
// seq 0 means fire-and-forget; any other value is an at-least-once frame.
// Sequenced frames the gateway sends stay buffered until the client answers
// with an "ack" frame whose body is { "seq": n }. Sequenced frames the gateway
// receives get no "ack" frame: they are deduplicated by seq and answered with
// their response frame.
// The body is itself a MessagePack map whose shape is handler-specific.
// -----------------------------------------------------------------------------

// MethodAck is the reserved control method acknowledging at-least-once frames.
const MethodAck = "ack"

// MaxFrameSize is the largest inbound frame the transport accepts.
const MaxFrameSize = 5 * 1024 * 1024

// -----------------------------------------------------------------------------

type Frame struct {
	Method string `msgpack:"method"`
	Seq    uint64 `msgpack:"seq"`
	Body   []byte `msgpack:"body"`
}

// -----------------------------------------------------------------------------

// EncodeFrame serializes a frame for the wire.
func EncodeFrame(method string, seq uint64, body []byte) ([]byte, error) {
	return msgpack.Marshal(Frame{Method: method, Seq: seq, Body: body})
}

// -----------------------------------------------------------------------------

// DecodeFrame parses one wire message into a frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if len(data) > MaxFrameSize {
		return f, fmt.Errorf("frame of %d bytes exceeds the %d byte limit", len(data), MaxFrameSize)
	}
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("failed to decode frame: %w", err)
	}
	if f.Method == "" {
		return f, fmt.Errorf("frame is missing a method")
	}
	return f, nil
}

// -----------------------------------------------------------------------------

// EncodeBody serializes a handler payload.
func EncodeBody(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// -----------------------------------------------------------------------------

// DecodeBody parses a handler payload into out.
func DecodeBody(body []byte, out interface{}) error {
	if len(body) == 0 {
		return nil
	}
	return msgpack.Unmarshal(body, out)
}

// -----------------------------------------------------------------------------

// AckBody is the payload of an "ack" control frame.
type AckBody struct {
	Seq uint64 `msgpack:"seq"`
}

// EncodeAck builds the wire form of an acknowledgement for seq.
func EncodeAck(seq uint64) ([]byte, error) {
	body, err := msgpack.Marshal(AckBody{Seq: seq})
	if err != nil {
		return nil, err
	}
	return EncodeFrame(MethodAck, 0, body)
}
