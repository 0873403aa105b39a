package websocket

import (
	"encoding/json"
	"time"
)

// FrameType identifies a message of the DM bridge protocol.
type FrameType string

// Protocol frames. The bridge opens with hello and gets welcome or error
// back; dm_send goes out to the bridge, dm_received comes in, and every
// dm_send or dm_received is answered by a dm_ack with the same ID.
const (
	FrameHello    FrameType = "hello"
	FrameWelcome  FrameType = "welcome"
	FrameSend     FrameType = "dm_send"
	FrameReceived FrameType = "dm_received"
	FrameAck      FrameType = "dm_ack"
	FrameError    FrameType = "error"
)

// Frame is the wire format of every websocket message.
type Frame struct {
	Type      FrameType       `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Hello authenticates a bridge connection.
type Hello struct {
	Token string `json:"token"`
	Name  string `json:"name,omitempty"`
}

// DirectMessage is the payload of dm_send and dm_received.
type DirectMessage struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Content string `json:"content"`
}

// Ack answers a dm_send or dm_received. Error is empty on success.
type Ack struct {
	Error string `json:"error,omitempty"`
}
