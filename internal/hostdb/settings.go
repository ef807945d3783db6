package hostdb

import (
	"database/sql"
	"fmt"
)

// Get loads a settings value. Returns (nil, nil) for an absent key.
func (h *Host) Get(key string) ([]byte, error) {
	row := h.db.QueryRow("SELECT value_json FROM settings WHERE key = ?", key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan settings %q: %w", key, err)
	}
	return []byte(value), nil
}

// Set persists a settings value, replacing any existing one.
func (h *Host) Set(key string, value []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := h.db.Exec(`
		INSERT INTO settings (key, value_json, updated_at_ns)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value_json    = excluded.value_json,
			updated_at_ns = excluded.updated_at_ns
	`, key, string(value), h.clk.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert settings %q: %w", key, err)
	}
	return nil
}
