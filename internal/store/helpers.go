package store

import (
	"encoding/json"
	"fmt"
)

// marshalParameters encodes a parameter bag for a database column. A nil bag
// is stored as an empty object.
func marshalParameters(params map[string]any) ([]byte, error) {
	if params == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	return data, nil
}

func unmarshalParameters(data []byte) (map[string]any, error) {
	params := make(map[string]any)
	if len(data) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}
	return params, nil
}

// cloneParameters deep-copies a parameter bag through its JSON encoding.
func cloneParameters(params map[string]any) (map[string]any, error) {
	data, err := marshalParameters(params)
	if err != nil {
		return nil, err
	}
	return unmarshalParameters(data)
}
