// Package codec frames real-time messages. Text frames carry JSON and
// binary frames carry CBOR; both share the json struct tags.
package codec

import (
	"encoding/json"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"remotedesk/internal/domain"
)

type Codec interface {
	Name() string
	Binary() bool
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	DecodeEnvelope(frame []byte) (Envelope, error)
}

// Envelope is an inbound frame whose payload is decoded lazily once the
// message type is known.
type Envelope struct {
	Type      string
	ID        string
	SessionID string
	Payload   Payload
}

type Payload struct {
	data  []byte
	codec Codec
}

func NewPayload(c Codec, data []byte) Payload {
	return Payload{data: data, codec: c}
}

func (p Payload) Empty() bool {
	return len(p.data) == 0 || string(p.data) == "null"
}

// Decode unmarshals the payload into v. Malformed payloads are validation
// failures.
func (p Payload) Decode(v any) error {
	if p.Empty() || p.codec == nil {
		return domain.Validation("missing_payload")
	}
	if err := p.codec.Unmarshal(p.data, v); err != nil {
		return &domain.Error{Kind: domain.KindValidation, Code: "invalid_payload", Err: err}
	}
	return nil
}

type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Binary() bool { return false }

func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c JSON) DecodeEnvelope(frame []byte) (Envelope, error) {
	var raw struct {
		Type      string          `json:"type"`
		ID        string          `json:"id"`
		SessionID string          `json:"session_id"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Envelope{}, &domain.Error{Kind: domain.KindValidation, Code: "invalid_frame", Err: err}
	}
	return envelope(c, raw.Type, raw.ID, raw.SessionID, raw.Payload)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

type CBOR struct{}

func (CBOR) Name() string { return "cbor" }

func (CBOR) Binary() bool { return true }

func (CBOR) Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func (CBOR) Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

func (c CBOR) DecodeEnvelope(frame []byte) (Envelope, error) {
	var raw struct {
		Type      string          `json:"type"`
		ID        string          `json:"id"`
		SessionID string          `json:"session_id"`
		Payload   cbor.RawMessage `json:"payload"`
	}
	if err := decMode.Unmarshal(frame, &raw); err != nil {
		return Envelope{}, &domain.Error{Kind: domain.KindValidation, Code: "invalid_frame", Err: err}
	}
	return envelope(c, raw.Type, raw.ID, raw.SessionID, raw.Payload)
}

func envelope(c Codec, typ, id, sessionID string, payload []byte) (Envelope, error) {
	if typ == "" {
		return Envelope{}, domain.Validation("missing_message_type")
	}
	return Envelope{Type: typ, ID: id, SessionID: sessionID, Payload: NewPayload(c, payload)}, nil
}

// ForName resolves a negotiated codec name, defaulting to JSON.
func ForName(name string) Codec {
	if name == "cbor" {
		return CBOR{}
	}
	return JSON{}
}
