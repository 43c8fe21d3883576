package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

const Version = "1.0"

// Message types.
const (
	TypeHello    = "HELLO"
	TypeWelcome  = "WELCOME"
	TypeMove     = "MOVE"
	TypeMoved    = "MOVED"
	TypeRejected = "REJECTED"
	TypeSpawn    = "SPAWN"
	TypeDespawn  = "DESPAWN"
	TypeReset    = "RESET"
	TypeError    = "ERROR"
)

// Roles requested in HELLO.
const (
	RolePlayer  = "PLAYER"
	RoleReplica = "REPLICA"
)

// BaseMessage lets us route unknown messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// DecodeBaseAs is DecodeBase for either encoding.
func DecodeBaseAs(enc Encoding, b []byte) (BaseMessage, error) {
	if enc == EncodingMsgpack {
		var m BaseMessage
		err := Decode(enc, b, &m)
		return m, err
	}
	return DecodeBase(b)
}

// Encoding selects the frame codec for a session.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

func ParseEncoding(s string) Encoding {
	if Encoding(s) == EncodingMsgpack {
		return EncodingMsgpack
	}
	return EncodingJSON
}

// Binary reports whether frames of this encoding go out as binary websocket messages.
func (e Encoding) Binary() bool { return e == EncodingMsgpack }

// Encode marshals v. Msgpack frames reuse the json struct tags so both encodings
// share field names.
func Encode(enc Encoding, v any) ([]byte, error) {
	if enc != EncodingMsgpack {
		return json.Marshal(v)
	}
	return marshalMsgpack(v)
}

func Decode(enc Encoding, b []byte, v any) error {
	if enc != EncodingMsgpack {
		return json.Unmarshal(b, v)
	}
	return unmarshalMsgpack(b, v)
}

func marshalMsgpack(v any) ([]byte, error) {
	var buf bytes.Buffer
	e := msgpack.NewEncoder(&buf)
	e.SetCustomStructTag("json")
	if err := e.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalMsgpack(b []byte, v any) error {
	d := msgpack.NewDecoder(bytes.NewReader(b))
	d.SetCustomStructTag("json")
	return d.Decode(v)
}
