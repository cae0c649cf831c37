package rtc

import (
	"fmt"

	"github.com/dkeye/sharedview/internal/core"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	ControlChannelLabel = "control"
	msgTypeControl      = "control"
)

// Message is one data-channel frame.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: b}, nil
}

func EncodeControl(sig core.ControlSignal) ([]byte, error) {
	msg, err := NewMessage(msgTypeControl, sig)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msg)
}

func DecodeControl(b []byte) (core.ControlSignal, error) {
	var msg Message
	if err := msgpack.Unmarshal(b, &msg); err != nil {
		return core.ControlSignal{}, err
	}
	if msg.Type != msgTypeControl {
		return core.ControlSignal{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var sig core.ControlSignal
	if err := msg.DecodePayload(&sig); err != nil {
		return core.ControlSignal{}, err
	}
	return sig, nil
}
