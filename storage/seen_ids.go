package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrStoreClosed indicates the store was used after Close.
var ErrStoreClosed = errors.New("storage: store is closed")

// InsertSeenIDs records forwarded message IDs in a single transaction.
//
// Existing IDs are left untouched so the first received_at survives.
func (s *Store) InsertSeenIDs(messageIDs []string, receivedAt int64) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	if len(messageIDs) == 0 {
		return nil
	}
	if receivedAt == 0 {
		receivedAt = nowUnixMilli()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin seen message IDs transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.Prepare(
		`INSERT INTO seen_message_ids (message_id, received_at)
		VALUES (?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
	)
	if err != nil {
		return fmt.Errorf("prepare seen message ID insert: %w", err)
	}
	defer stmt.Close()

	for _, messageID := range messageIDs {
		if messageID == "" {
			return errors.New("message_id is required")
		}
		if _, err := stmt.Exec(messageID, receivedAt); err != nil {
			return fmt.Errorf("insert seen message ID %q: %w", messageID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seen message IDs: %w", err)
	}
	return nil
}

// ListSeenIDs returns every recorded message ID ordered by ID.
func (s *Store) ListSeenIDs() ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`SELECT message_id FROM seen_message_ids ORDER BY message_id`)
	if err != nil {
		return nil, fmt.Errorf("list seen message IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan seen message ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seen message IDs: %w", err)
	}

	return ids, nil
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
