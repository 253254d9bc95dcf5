package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SaveMemory inserts a memory unless one already exists for (ItemID, AgentID).
// It reports whether a row was written.
func (s *Store) SaveMemory(m Memory) (bool, error) {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := s.db.Exec(`
		INSERT INTO memories (id, item_id, agent_id, kind, content, room_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id, agent_id) DO NOTHING`,
		m.ID, m.ItemID, m.AgentID, m.Kind, m.Content, m.RoomID, formatTime(createdAt),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// HasMemory reports whether (itemID, agentID) was already recorded.
func (s *Store) HasMemory(itemID, agentID string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE item_id = ? AND agent_id = ?`, itemID, agentID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// HasPostedContent reports whether the agent already posted identical text.
func (s *Store) HasPostedContent(agentID, content string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE agent_id = ? AND kind = 'post' AND content = ?`,
		agentID, content).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecentMemories returns the newest memories of the given kind for agentID.
func (s *Store) RecentMemories(agentID, kind string, limit int) ([]Memory, error) {
	rows, err := s.db.Query(`
		SELECT id, item_id, agent_id, kind, content, room_id, created_at
		FROM memories WHERE agent_id = ? AND kind = ? ORDER BY created_at DESC LIMIT ?`,
		agentID, kind, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Memory
	for rows.Next() {
		var m Memory
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ItemID, &m.AgentID, &m.Kind, &m.Content, &m.RoomID, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// SaveActionOutcome writes the decided and executed action sets for an item.
func (s *Store) SaveActionOutcome(o ActionOutcome) error {
	decided, err := json.Marshal(nonNil(o.Decided))
	if err != nil {
		return fmt.Errorf("marshalling decided actions: %w", err)
	}
	executed, err := json.Marshal(nonNil(o.Executed))
	if err != nil {
		return fmt.Errorf("marshalling executed actions: %w", err)
	}
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.db.Exec(`
		INSERT INTO action_outcomes (item_id, agent_id, decided, executed, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(item_id, agent_id) DO NOTHING`,
		o.ItemID, o.AgentID, string(decided), string(executed), formatTime(createdAt),
	)
	return err
}

// GetActionOutcome loads the outcome recorded for (itemID, agentID).
func (s *Store) GetActionOutcome(itemID, agentID string) (ActionOutcome, error) {
	var o ActionOutcome
	var decided, executed, createdAt string
	err := s.db.QueryRow(`SELECT item_id, agent_id, decided, executed, created_at
		FROM action_outcomes WHERE item_id = ? AND agent_id = ?`, itemID, agentID,
	).Scan(&o.ItemID, &o.AgentID, &decided, &executed, &createdAt)
	if err == sql.ErrNoRows {
		return ActionOutcome{}, ErrNotFound
	}
	if err != nil {
		return ActionOutcome{}, err
	}
	if err := json.Unmarshal([]byte(decided), &o.Decided); err != nil {
		return ActionOutcome{}, fmt.Errorf("parsing decided actions: %w", err)
	}
	if err := json.Unmarshal([]byte(executed), &o.Executed); err != nil {
		return ActionOutcome{}, fmt.Errorf("parsing executed actions: %w", err)
	}
	if o.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return ActionOutcome{}, err
	}
	return o, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
