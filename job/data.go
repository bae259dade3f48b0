package job

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/xraph/tether"
)

var emptyObject = json.RawMessage(`{}`)

// EncodeData marshals v into a JSON object. A nil value yields "{}".
// Anything that does not encode to an object is rejected.
func EncodeData(v any) (json.RawMessage, error) {
	if v == nil {
		return emptyObject, nil
	}
	var raw json.RawMessage
	switch d := v.(type) {
	case json.RawMessage:
		raw = d
	case []byte:
		raw = d
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: encode data: %v", tether.ErrInvalidArgument, err)
		}
		raw = b
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return emptyObject, nil
	}
	if raw[0] != '{' || !json.Valid(raw) {
		return nil, fmt.Errorf("%w: data must be a JSON object", tether.ErrInvalidArgument)
	}
	return append(json.RawMessage(nil), raw...), nil
}

// MergeData shallow-merges the top-level keys of patch into base.
func MergeData(base json.RawMessage, patch any) (json.RawMessage, error) {
	p, err := EncodeData(patch)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if len(base) > 0 {
		if err := json.Unmarshal(base, &fields); err != nil {
			return nil, fmt.Errorf("merge data: stored data is not an object: %w", err)
		}
	}
	var updates map[string]json.RawMessage
	if err := json.Unmarshal(p, &updates); err != nil {
		return nil, fmt.Errorf("merge data: %w", err)
	}
	for k, v := range updates {
		fields[k] = v
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("merge data: %w", err)
	}
	return out, nil
}
