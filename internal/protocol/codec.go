package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns envelopes into frames and back. JSON frames go out as websocket
// text messages, msgpack frames as binary ones.
type Codec interface {
	Name() string
	Binary() bool
	Encode(env Envelope) ([]byte, error)
	Decode(frame []byte) (Inbound, error)
	Unmarshal(data []byte, v any) error
}

// CodecByName returns the codec for a ?codec= query value. Unknown names get JSON.
func CodecByName(name string) Codec {
	if name == "msgpack" {
		return MsgpackCodec{}
	}
	return JSONCodec{}
}

// JSONCodec is the default wire format
type JSONCodec struct{}

type jsonInbound struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

func (JSONCodec) Name() string { return "json" }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (JSONCodec) Decode(frame []byte) (Inbound, error) {
	var in jsonInbound
	if err := json.Unmarshal(frame, &in); err != nil {
		return Inbound{}, fmt.Errorf("decode json envelope: %w", err)
	}
	return Inbound{T: in.T, D: in.D}, nil
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(data, v)
}

// MsgpackCodec is the compact binary format. Struct fields reuse the json tags.
type MsgpackCodec struct{}

type msgpackInbound struct {
	T string             `json:"t"`
	D msgpack.RawMessage `json:"d,omitempty"`
}

func (MsgpackCodec) Name() string { return "msgpack" }
func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Encode(env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("encode msgpack envelope: %w", err)
	}
	return buf.Bytes(), nil
}

func (c MsgpackCodec) Decode(frame []byte) (Inbound, error) {
	var in msgpackInbound
	if err := c.Unmarshal(frame, &in); err != nil {
		return Inbound{}, fmt.Errorf("decode msgpack envelope: %w", err)
	}
	return Inbound{T: in.T, D: in.D}, nil
}

func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty payload")
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
