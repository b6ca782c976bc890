// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Stay under SQLITE_MAX_VARIABLE_NUMBER on older builds.
const maxParams = 900

// Placeholders returns n comma separated "?" markers.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// InternStrings stores each value in string_pool once and returns the ids in
// input order. Empty values are rejected; use InternStringNullable for
// optional columns.
func InternStrings(ctx context.Context, tx TxQuerier, values ...string) ([]int64, error) {
	if len(values) == 0 {
		return []int64{}, nil
	}

	unique := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for i, v := range values {
		if v == "" {
			return nil, fmt.Errorf("value at index %d is empty", i)
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		unique = append(unique, v)
	}

	for start := 0; start < len(unique); start += maxParams {
		chunk := unique[start:min(start+maxParams, len(unique))]
		args := make([]any, len(chunk))
		for i, v := range chunk {
			args[i] = v
		}

		query := "INSERT OR IGNORE INTO string_pool (value) VALUES (" + strings.Repeat("?),(", len(chunk)-1) + "?)"
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("failed to insert into string pool: %w", err)
		}
	}

	ids, err := GetStringID(ctx, tx, values...)
	if err != nil {
		return nil, err
	}

	out := make([]int64, len(ids))
	for i, id := range ids {
		if !id.Valid {
			return nil, fmt.Errorf("failed to get id for interned string %q", values[i])
		}
		out[i] = id.Int64
	}
	return out, nil
}

// InternStringNullable interns the non-empty values and returns an invalid
// NullInt64 for every nil or empty one.
func InternStringNullable(ctx context.Context, tx TxQuerier, values ...*string) ([]sql.NullInt64, error) {
	results := make([]sql.NullInt64, len(values))

	var present []string
	var positions []int
	for i, v := range values {
		if v == nil || *v == "" {
			continue
		}
		present = append(present, *v)
		positions = append(positions, i)
	}

	if len(present) == 0 {
		return results, nil
	}

	ids, err := InternStrings(ctx, tx, present...)
	if err != nil {
		return nil, err
	}
	for i, pos := range positions {
		results[pos] = sql.NullInt64{Int64: ids[i], Valid: true}
	}
	return results, nil
}

// InternEmptyString returns the id of the empty string, which some columns
// store as a real value (an instance without a username).
func InternEmptyString(ctx context.Context, tx TxQuerier) (int64, error) {
	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO string_pool (value) VALUES ('')"); err != nil {
		return 0, fmt.Errorf("failed to ensure empty string in string_pool: %w", err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM string_pool WHERE value = ''").Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to get empty string id: %w", err)
	}
	return id, nil
}

// GetStringID looks values up without inserting them.
func GetStringID(ctx context.Context, tx TxQuerier, values ...string) ([]sql.NullInt64, error) {
	results := make([]sql.NullInt64, len(values))
	if len(values) == 0 {
		return results, nil
	}

	if len(values) == 1 {
		if values[0] == "" {
			return results, nil
		}
		var id int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM string_pool WHERE value = ?", values[0]).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return results, nil
		case err != nil:
			return nil, fmt.Errorf("failed to get string id: %w", err)
		}
		results[0] = sql.NullInt64{Int64: id, Valid: true}
		return results, nil
	}

	unique := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		unique = append(unique, v)
	}

	valueToID := make(map[string]int64, len(unique))
	for start := 0; start < len(unique); start += maxParams {
		chunk := unique[start:min(start+maxParams, len(unique))]
		args := make([]any, len(chunk))
		for i, v := range chunk {
			args[i] = v
		}

		if err := scanPairs(ctx, tx, "SELECT id, value FROM string_pool WHERE value IN ("+Placeholders(len(chunk))+")", args, valueToID); err != nil {
			return nil, err
		}
	}

	for i, v := range values {
		if id, ok := valueToID[v]; ok {
			results[i] = sql.NullInt64{Int64: id, Valid: true}
		}
	}
	return results, nil
}

// GetString resolves ids back to their values in input order.
func GetString(ctx context.Context, tx TxQuerier, ids ...int64) ([]string, error) {
	results := make([]string, len(ids))
	if len(ids) == 0 {
		return results, nil
	}

	idToValue := make(map[int64]string, len(ids))
	for start := 0; start < len(ids); start += maxParams {
		chunk := ids[start:min(start+maxParams, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := tx.QueryContext(ctx, "SELECT id, value FROM string_pool WHERE id IN ("+Placeholders(len(chunk))+")", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query string pool: %w", err)
		}
		for rows.Next() {
			var id int64
			var value string
			if err := rows.Scan(&id, &value); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan string pool row: %w", err)
			}
			idToValue[id] = value
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("error iterating string pool rows: %w", err)
		}
	}

	for i, id := range ids {
		value, ok := idToValue[id]
		if !ok {
			return nil, fmt.Errorf("string id %d: %w", id, sql.ErrNoRows)
		}
		results[i] = value
	}
	return results, nil
}

func scanPairs(ctx context.Context, tx TxQuerier, query string, args []any, into map[string]int64) error {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query string pool: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var value string
		if err := rows.Scan(&id, &value); err != nil {
			return fmt.Errorf("failed to scan string pool row: %w", err)
		}
		into[value] = id
	}
	return rows.Err()
}
