package jsoncodec

import (
	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// Valid reports whether data is a well-formed JSON document.
func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}

// ToMap renders v as a generic JSON object, the shape schema validation works on.
// Numbers decode as float64, matching encoding/json.
func ToMap(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
