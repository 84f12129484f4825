package busrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// requestBody is the wire shape of a call: {"args": [...], "kwargs": {...}}.
type requestBody struct {
	Args   []json.RawMessage          `json:"args"`
	Kwargs map[string]json.RawMessage `json:"kwargs"`
}

func encodeRequest(args []any, kwargs map[string]any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	b, err := json.Marshal(struct {
		Args   []any          `json:"args"`
		Kwargs map[string]any `json:"kwargs"`
	}{args, kwargs})
	if err != nil {
		return nil, fmt.Errorf("busrpc: encode request: %w", err)
	}
	return b, nil
}

func decodeRequest(body []byte) (requestBody, error) {
	var req requestBody
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return req, fmt.Errorf("busrpc: decode request: %w", err)
		}
	}
	if req.Kwargs == nil {
		req.Kwargs = map[string]json.RawMessage{}
	}
	return req, nil
}

// encodeReply marshals a handler result. Raw JSON passes through untouched.
func encodeReply(v any) ([]byte, error) {
	switch r := v.(type) {
	case json.RawMessage:
		if len(r) == 0 {
			return []byte("null"), nil
		}
		if !json.Valid(r) {
			return nil, fmt.Errorf("busrpc: handler returned invalid raw JSON")
		}
		return r, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("busrpc: encode reply: %w", err)
	}
	return b, nil
}

// encodeErrorText renders an error reply body: a JSON string.
func encodeErrorText(msg string) []byte {
	b, _ := json.Marshal(msg)
	return b
}

// decodeErrorText extracts the message of an error reply. Non string bodies
// are returned as their JSON text.
func decodeErrorText(body []byte) string {
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		return s
	}
	return string(body)
}
