package types

import (
	"bytes"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// Wire-level field names. Announcements carry "r", value updates carry "k".
const (
	FieldKey       = "k"
	FieldValue     = "v"
	FieldIsNew     = "n"
	FieldConnected = "r"
	FieldAddress   = "a"
)

// ErrMalformedFrame is returned by DecodeFrame for anything that is not a
// well-formed announcement or value update.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is an inbound server message: *UpdateFrame or *AnnounceFrame.
type Frame interface {
	isFrame()
}

// WriteFrame is a value write sent from the client to the server.
type WriteFrame struct {
	Key   string `json:"k"`
	Value Value  `json:"v"`
}

// UpdateFrame tells the client the current value of one key. IsNew is set
// by the server the first time it asserts the key.
type UpdateFrame struct {
	Key   string `json:"k"`
	Value Value  `json:"v"`
	IsNew bool   `json:"n"`
}

// AnnounceFrame reports whether the robot is connected to the server, and
// from which address.
type AnnounceFrame struct {
	Connected bool    `json:"r"`
	Address   *string `json:"a"`
}

func (*UpdateFrame) isFrame()   {}
func (*AnnounceFrame) isFrame() {}

// PeerAddress returns the announced address, if any.
func (f *AnnounceFrame) PeerAddress() (string, bool) {
	if f.Address == nil {
		return "", false
	}
	return *f.Address, true
}

// EncodeWrite serializes a client write.
func EncodeWrite(key string, v Value) ([]byte, error) {
	if !v.IsValid() {
		return nil, fmt.Errorf("%s: %w", key, ErrUndefinedValue)
	}
	return json.Marshal(WriteFrame{Key: key, Value: v})
}

// EncodeFrame serializes an inbound frame. Servers and tests use it; the
// client itself only decodes these.
func EncodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses a single JSON text frame received from the server.
func DecodeFrame(data []byte) (Frame, error) {
	var fields map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if raw, ok := fields[FieldConnected]; ok {
		return decodeAnnounce(raw, fields)
	}
	if raw, ok := fields[FieldKey]; ok {
		return decodeUpdate(raw, fields)
	}
	return nil, fmt.Errorf("%w: neither %q nor %q present", ErrMalformedFrame, FieldConnected, FieldKey)
}

// DecodeWrite parses a client write frame.
func DecodeWrite(data []byte) (*WriteFrame, error) {
	var w WriteFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if w.Key == "" || !w.Value.IsValid() {
		return nil, fmt.Errorf("%w: write without key or value", ErrMalformedFrame)
	}
	return &w, nil
}

func decodeAnnounce(raw jsoniter.RawMessage, fields map[string]jsoniter.RawMessage) (*AnnounceFrame, error) {
	if isNull(raw) {
		return nil, fmt.Errorf("%w: %q is null", ErrMalformedFrame, FieldConnected)
	}
	f := &AnnounceFrame{}
	if err := json.Unmarshal(raw, &f.Connected); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedFrame, FieldConnected, err)
	}
	if a, ok := fields[FieldAddress]; ok && !isNull(a) {
		var addr string
		if err := json.Unmarshal(a, &addr); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedFrame, FieldAddress, err)
		}
		f.Address = &addr
	}
	return f, nil
}

func decodeUpdate(raw jsoniter.RawMessage, fields map[string]jsoniter.RawMessage) (*UpdateFrame, error) {
	f := &UpdateFrame{}
	if isNull(raw) {
		return nil, fmt.Errorf("%w: %q is null", ErrMalformedFrame, FieldKey)
	}
	if err := json.Unmarshal(raw, &f.Key); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedFrame, FieldKey, err)
	}
	if f.Key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrMalformedFrame)
	}

	v, ok := fields[FieldValue]
	if !ok {
		return nil, fmt.Errorf("%w: %s: no value", ErrMalformedFrame, f.Key)
	}
	if err := f.Value.UnmarshalJSON(v); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedFrame, f.Key, err)
	}

	if n, ok := fields[FieldIsNew]; ok && !isNull(n) {
		if err := json.Unmarshal(n, &f.IsNew); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedFrame, FieldIsNew, err)
		}
	}
	return f, nil
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
