package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lotas/studzo/internal/types"
)

const profileKey = "profile"

// GetValue returns the value stored under key. ok is false when absent.
func GetValue(db *sql.DB, key string) (value string, ok bool, err error) {
	err = db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// SetValue stores value under key, replacing any previous value.
func SetValue(db *sql.DB, key, value string) error {
	_, err := db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// DeleteValue removes key.
func DeleteValue(db *sql.DB, key string) error {
	_, err := db.Exec("DELETE FROM kv WHERE key = ?", key)
	return err
}

// LoadProfile reads the saved profile. ok is false when none was saved.
func LoadProfile(db *sql.DB) (p types.Profile, ok bool, err error) {
	raw, ok, err := GetValue(db, profileKey)
	if err != nil || !ok {
		return types.Profile{}, false, err
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return types.Profile{}, false, fmt.Errorf("decode profile: %w", err)
	}
	return p, true, nil
}

// SaveProfile writes the profile record.
func SaveProfile(db *sql.DB, p types.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return SetValue(db, profileKey, string(data))
}
