package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const postColumns = `id, agent_id, content, scheduled_at, status, approval, context_json, media_ref,
	error_payload, post_id, permalink, created_at, sent_at`

// SavePendingPost inserts a new post in StatusPending.
func (s *Store) SavePendingPost(p PendingPost) error {
	approval := p.Approval
	if approval == "" {
		approval = ApprovalAwaiting
	}
	ctxJSON := p.ContextJSON
	if ctxJSON == "" {
		ctxJSON = "{}"
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO pending_posts (id, agent_id, content, scheduled_at, status, approval, context_json, media_ref, created_at)
		VALUES (?, ?, ?, ?, 'pending', ?, ?, ?, ?)`,
		p.ID, p.AgentID, p.Content, formatTime(p.ScheduledAt), approval, ctxJSON, p.MediaRef, formatTime(createdAt),
	)
	return err
}

// GetPendingPost loads a post by id regardless of status.
func (s *Store) GetPendingPost(id string) (PendingPost, error) {
	row := s.db.QueryRow(`SELECT `+postColumns+` FROM pending_posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if err == sql.ErrNoRows {
		return PendingPost{}, ErrNotFound
	}
	return p, err
}

// ListPendingPosts returns posts for agentID filtered by status (empty = all),
// newest first.
func (s *Store) ListPendingPosts(agentID, status string, limit int) ([]PendingPost, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + postColumns + ` FROM pending_posts WHERE agent_id = ?`
	args := []any{agentID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPosts(rows)
}

// ListApprovedDue returns approved posts still pending whose scheduled time
// is at or before now, oldest schedule first.
func (s *Store) ListApprovedDue(agentID string, now time.Time) ([]PendingPost, error) {
	rows, err := s.db.Query(`SELECT `+postColumns+` FROM pending_posts
		WHERE agent_id = ? AND status = 'pending' AND approval = 'approved' AND scheduled_at <= ?
		ORDER BY scheduled_at ASC, created_at ASC`,
		agentID, formatTime(now),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPosts(rows)
}

// SetApproval updates the approval state of a post that is still pending.
func (s *Store) SetApproval(id, approval string) error {
	res, err := s.db.Exec(`UPDATE pending_posts SET approval = ? WHERE id = ? AND status = 'pending'`, approval, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var status string
		err := s.db.QueryRow(`SELECT status FROM pending_posts WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrNotPending
	}
	return nil
}

// ClaimPendingPost moves a post from pending to sent. It reports false when
// another caller already moved it.
func (s *Store) ClaimPendingPost(id string, now time.Time) (bool, error) {
	res, err := s.db.Exec(`UPDATE pending_posts SET status = 'sent', sent_at = ? WHERE id = ? AND status = 'pending'`,
		formatTime(now), id)
	if err != nil {
		return false, fmt.Errorf("claiming post %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking claimed rows: %w", err)
	}
	return n == 1, nil
}

// RecordDelivery stores the network identifiers of a claimed post.
func (s *Store) RecordDelivery(id, postID, permalink string) error {
	res, err := s.db.Exec(`UPDATE pending_posts SET post_id = ?, permalink = ? WHERE id = ? AND status = 'sent'`,
		postID, permalink, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPostError records a failed delivery. A claimed post may still fail;
// a post with a recorded post id never does.
func (s *Store) MarkPostError(id, payload string) error {
	res, err := s.db.Exec(`UPDATE pending_posts SET status = 'error', error_payload = ?
		WHERE id = ? AND post_id = '' AND status IN ('pending', 'sent')`, payload, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (PendingPost, error) {
	var p PendingPost
	var scheduledAt, createdAt, sentAt string
	if err := row.Scan(&p.ID, &p.AgentID, &p.Content, &scheduledAt, &p.Status, &p.Approval, &p.ContextJSON,
		&p.MediaRef, &p.ErrorPayload, &p.PostID, &p.Permalink, &createdAt, &sentAt); err != nil {
		return PendingPost{}, err
	}
	var err error
	if p.ScheduledAt, err = parseTime("scheduled_at", scheduledAt); err != nil {
		return PendingPost{}, err
	}
	if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return PendingPost{}, err
	}
	if p.SentAt, err = parseTime("sent_at", sentAt); err != nil {
		return PendingPost{}, err
	}
	return p, nil
}

func scanPosts(rows *sql.Rows) ([]PendingPost, error) {
	var results []PendingPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}
