package facade

import (
	"encoding/json"

	"github.com/halcyon-home/halcyon/internal/fault"
)

// LoadJSON reads and decodes a persisted settings value into out.
// Returns (false, nil) when the key is absent, leaving out untouched.
func LoadJSON(s Settings, key string, out any) (bool, error) {
	data, err := s.Get(key)
	if err != nil {
		return false, fault.Persistence(key, err)
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fault.Persistence(key, err)
	}
	return true, nil
}

// SaveJSON encodes and persists a settings value.
func SaveJSON(s Settings, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fault.Persistence(key, err)
	}
	if err := s.Set(key, data); err != nil {
		return fault.Persistence(key, err)
	}
	return nil
}
