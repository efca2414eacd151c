// Package message defines the tagged envelope carried on every Channel
// in kitsh: the universal unit exchanged between tasks, bridges, and
// the WebSocket wire protocol.
package message

import "encoding/json"

// Resize describes a terminal window size change.
type Resize struct {
	Width  uint16 `json:"width"`
	Height uint16 `json:"height"`
}

// Message is the tagged record carried on a Channel. Exactly the
// fields that are non-nil are meaningful; Data and Error distinguish
// stdout-like and stderr-like payloads, Resize carries a window size
// change, and Close is the wire-level orderly termination request
// (internally, channel closure already carries this meaning, so Close
// only appears in frames coming from or going to a client).
//
// Unrecognized keys on the wire are preserved in Extra so a frame can
// be round-tripped without losing information it doesn't understand.
type Message struct {
	Data   []byte          `json:"data,omitempty"`
	Error  []byte          `json:"error,omitempty"`
	Resize *Resize         `json:"resize,omitempty"`
	Close  bool            `json:"close,omitempty"`
	Extra  map[string]json.RawMessage `json:"-"`
}

// Data constructs a data message.
func Data(b []byte) Message { return Message{Data: b} }

// DataString constructs a data message from a string.
func DataString(s string) Message { return Message{Data: []byte(s)} }

// Err constructs an error message.
func Err(b []byte) Message { return Message{Error: b} }

// ResizeMsg constructs a resize message.
func ResizeMsg(width, height uint16) Message {
	return Message{Resize: &Resize{Width: width, Height: height}}
}

// CloseMsg constructs an orderly-close message.
func CloseMsg() Message { return Message{Close: true} }

// HasData reports whether the message carries a data payload.
func (m Message) HasData() bool { return m.Data != nil }

// reservedKeys are the struct fields handled explicitly by
// MarshalJSON/UnmarshalJSON; everything else round-trips via Extra.
var reservedKeys = map[string]struct{}{
	"data": {}, "error": {}, "resize": {}, "close": {},
}

// MarshalJSON encodes m, folding Extra's unknown keys in alongside the
// recognized tags so a frame this process doesn't fully understand is
// still forwarded unchanged (spec: "additional tags are preserved
// opaquely").
func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Extra)+4)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Data != nil {
		b, err := json.Marshal(string(m.Data))
		if err != nil {
			return nil, err
		}
		out["data"] = b
	}
	if m.Error != nil {
		b, err := json.Marshal(string(m.Error))
		if err != nil {
			return nil, err
		}
		out["error"] = b
	}
	if m.Resize != nil {
		b, err := json.Marshal(m.Resize)
		if err != nil {
			return nil, err
		}
		out["resize"] = b
	}
	if m.Close {
		out["close"] = json.RawMessage("true")
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a frame, stashing any key it doesn't recognize
// into Extra.
func (m *Message) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*m = Message{}

	if v, ok := raw["data"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		m.Data = []byte(s)
	}
	if v, ok := raw["error"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		m.Error = []byte(s)
	}
	if v, ok := raw["resize"]; ok {
		var r Resize
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		m.Resize = &r
	}
	if v, ok := raw["close"]; ok {
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return err
		}
		m.Close = b
	}

	for k, v := range raw {
		if _, known := reservedKeys[k]; known {
			continue
		}
		if m.Extra == nil {
			m.Extra = make(map[string]json.RawMessage)
		}
		m.Extra[k] = v
	}

	return nil
}
