// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/dbinterface"
)

// Rows kept per instance.
const maxErrorsPerInstance = 5

type InstanceError struct {
	ID           int       `json:"id"`
	InstanceID   int       `json:"instanceId"`
	ErrorType    string    `json:"errorType"`
	ErrorMessage string    `json:"errorMessage"`
	OccurredAt   time.Time `json:"occurredAt"`
}

type InstanceErrorStore struct {
	db dbinterface.Querier
}

func NewInstanceErrorStore(db dbinterface.Querier) *InstanceErrorStore {
	return &InstanceErrorStore{db: db}
}

// RecordError stores err for the instance, skipping an identical message
// recorded within the last minute, and trims older rows.
func (s *InstanceErrorStore) RecordError(ctx context.Context, instanceID int, err error) error {
	if err == nil {
		return nil
	}

	message := err.Error()
	errorType := classifyError(err)

	var recent int
	if scanErr := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM instance_errors
		WHERE instance_id = ? AND error_message = ? AND occurred_at > datetime('now', '-1 minute')
	`, instanceID, message).Scan(&recent); scanErr != nil {
		return fmt.Errorf("failed to check recent errors: %w", scanErr)
	}
	if recent > 0 {
		return nil
	}

	tx, txErr := s.db.BeginTx(ctx, nil)
	if txErr != nil {
		return fmt.Errorf("failed to begin transaction: %w", txErr)
	}
	defer tx.Rollback()

	if _, execErr := tx.ExecContext(ctx, `
		INSERT INTO instance_errors (instance_id, error_type, error_message) VALUES (?, ?, ?)
	`, instanceID, errorType, message); execErr != nil {
		return fmt.Errorf("failed to record error: %w", execErr)
	}

	if _, execErr := tx.ExecContext(ctx, `
		DELETE FROM instance_errors
		WHERE instance_id = ? AND id NOT IN (
			SELECT id FROM instance_errors WHERE instance_id = ? ORDER BY occurred_at DESC, id DESC LIMIT ?
		)
	`, instanceID, instanceID, maxErrorsPerInstance); execErr != nil {
		return fmt.Errorf("failed to trim errors: %w", execErr)
	}

	return tx.Commit()
}

// GetRecentErrors returns the newest errors first.
func (s *InstanceErrorStore) GetRecentErrors(ctx context.Context, instanceID int, limit int) ([]InstanceError, error) {
	if limit <= 0 {
		limit = maxErrorsPerInstance
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instance_id, error_type, error_message, occurred_at
		FROM instance_errors
		WHERE instance_id = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, instanceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InstanceError
	for rows.Next() {
		var e InstanceError
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.ErrorType, &e.ErrorMessage, &e.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *InstanceErrorStore) ClearErrors(ctx context.Context, instanceID int) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM instance_errors WHERE instance_id = ?`, instanceID)
	return err
}

func classifyError(err error) string {
	if errors.Is(err, backend.ErrUnauthorized) {
		return "authentication"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "decrypt"), strings.Contains(msg, "cipher"):
		return "decryption"
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "login"), strings.Contains(msg, "banned"):
		return "authentication"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"),
		strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return "connection"
	default:
		return "unknown"
	}
}
