package wire

import "fmt"

// StringField extracts a required string field from a decoded payload.
func StringField(payload map[string]interface{}, name string) (string, error) {
	v, ok := payload[name]
	if !ok {
		return "", fmt.Errorf("wire: missing field %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("wire: field %q is not a string", name)
	}
	return s, nil
}

// IntField extracts a required integer field, tolerating the handful
// of numeric types a msgpack decoder may produce for a whole number.
func IntField(payload map[string]interface{}, name string) (int64, error) {
	v, ok := payload[name]
	if !ok {
		return 0, fmt.Errorf("wire: missing field %q", name)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("wire: field %q is not a number", name)
	}
}

// BytesField extracts a required []byte field.
func BytesField(payload map[string]interface{}, name string) ([]byte, error) {
	v, ok := payload[name]
	if !ok {
		return nil, fmt.Errorf("wire: missing field %q", name)
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("wire: field %q is not bytes", name)
	}
	return b, nil
}
