package signal

import (
	"encoding/json"
	"fmt"
)

// Validator is implemented by payload types with required fields.
type Validator interface {
	Validate() error
}

// Decode converts the payload of s into T.
//
// Payloads emitted in-process usually already have type T (or *T). Payloads
// that crossed a wire (HTTP intake, WebSocket) arrive as json.RawMessage,
// []byte or map[string]any and are converted with a JSON round trip. When T
// implements Validator the decoded value is validated before it is returned.
func Decode[T any](s Signal) (T, error) {
	var out T

	switch p := s.Payload.(type) {
	case T:
		out = p
	case *T:
		if p == nil {
			return out, fmt.Errorf("decode %s payload: nil pointer", s.Type)
		}
		out = *p
	case nil:
		// Zero value; validation below decides whether that is acceptable.
	case json.RawMessage:
		if err := json.Unmarshal(p, &out); err != nil {
			return out, fmt.Errorf("decode %s payload: %w", s.Type, err)
		}
	case []byte:
		if err := json.Unmarshal(p, &out); err != nil {
			return out, fmt.Errorf("decode %s payload: %w", s.Type, err)
		}
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return out, fmt.Errorf("encode %s payload: %w", s.Type, err)
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return out, fmt.Errorf("decode %s payload: %w", s.Type, err)
		}
	}

	if v, ok := any(out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return out, err
		}
	} else if v, ok := any(&out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return out, err
		}
	}
	return out, nil
}
