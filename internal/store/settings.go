package store

import "database/sql"

// GetSetting returns the raw string value for key, and false if unset.
func GetSetting(db *sql.DB, key string) (string, bool, error) {
	var value string
	err := db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// PutSetting upserts a single key/value pair.
func PutSetting(db *sql.DB, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value
	`, key, value)
	return err
}

// AllSettings returns every stored key/value pair.
func AllSettings(db *sql.DB) (map[string]string, error) {
	rows, err := db.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// AppendHistory records a terminal or notable event against a download,
// e.g. "completed", "error", "resumed-after-429".
func AppendHistory(db *sql.DB, downloadID, event, detail string, createdAt int64) error {
	_, err := db.Exec(`
		INSERT INTO history (download_id, event, detail, created_at) VALUES (?, ?, ?, ?)
	`, downloadID, event, detail, createdAt)
	return err
}
