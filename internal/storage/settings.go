package storage

import (
	"database/sql"
	"time"
)

// GetOrCreateSetting returns the value stored for (agentID, key), inserting
// def first when the key is missing.
func (s *Store) GetOrCreateSetting(agentID, key, def string) (string, error) {
	if _, err := s.db.Exec(`
		INSERT INTO agent_settings (agent_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id, key) DO NOTHING`,
		agentID, key, def, formatTime(time.Now()),
	); err != nil {
		return "", err
	}
	var value string
	err := s.db.QueryRow(`SELECT value FROM agent_settings WHERE agent_id = ? AND key = ?`, agentID, key).Scan(&value)
	return value, err
}

// SetSetting upserts the value for (agentID, key).
func (s *Store) SetSetting(agentID, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO agent_settings (agent_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		agentID, key, value, formatTime(time.Now()),
	)
	return err
}

// CacheGet reads an entry from the cache table.
func (s *Store) CacheGet(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM cache_entries WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// CacheSet writes an entry to the cache table.
func (s *Store) CacheSet(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO cache_entries (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()),
	)
	return err
}

// AppendAdminLog stores a structured operator log entry.
func (s *Store) AppendAdminLog(l AdminLog) error {
	createdAt := l.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO admin_logs (agent_id, level, event, message, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.AgentID, l.Level, l.Event, l.Message, l.Payload, formatTime(createdAt),
	)
	return err
}

// ListAdminLogs returns the newest admin log entries.
func (s *Store) ListAdminLogs(limit int) ([]AdminLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, agent_id, level, event, message, payload, created_at
		FROM admin_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AdminLog
	for rows.Next() {
		var l AdminLog
		var createdAt string
		if err := rows.Scan(&l.ID, &l.AgentID, &l.Level, &l.Event, &l.Message, &l.Payload, &createdAt); err != nil {
			return nil, err
		}
		if l.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, l)
	}
	return results, rows.Err()
}
