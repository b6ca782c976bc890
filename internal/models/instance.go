// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/dbinterface"
	"github.com/electorrent/electorrent/internal/domain"
)

var (
	ErrInstanceNotFound = errors.New("instance not found")
	ErrInvalidInstance  = errors.New("invalid instance")
)

// Instance is a configured torrent backend connection.
type Instance struct {
	ID                     int          `json:"id"`
	Name                   string       `json:"name"`
	Kind                   backend.Kind `json:"kind"`
	Host                   string       `json:"host"`
	Username               string       `json:"username"`
	PasswordEncrypted      string       `json:"-"`
	BasicUsername          *string      `json:"basicUsername,omitempty"`
	BasicPasswordEncrypted *string      `json:"-"`
	TLSSkipVerify          bool         `json:"tlsSkipVerify"`
	SortOrder              int          `json:"sortOrder"`
	IsActive               bool         `json:"isActive"`
}

type instanceJSON struct {
	ID            int          `json:"id"`
	Name          string       `json:"name"`
	Kind          backend.Kind `json:"kind"`
	Host          string       `json:"host"`
	Username      string       `json:"username"`
	Password      string       `json:"password,omitempty"`
	BasicUsername *string      `json:"basicUsername,omitempty"`
	BasicPassword string       `json:"basicPassword,omitempty"`
	TLSSkipVerify *bool        `json:"tlsSkipVerify,omitempty"`
	SortOrder     *int         `json:"sortOrder,omitempty"`
	IsActive      bool         `json:"isActive"`
}

// MarshalJSON never exposes the stored ciphertexts, only that a secret is set.
func (i Instance) MarshalJSON() ([]byte, error) {
	out := instanceJSON{
		ID:            i.ID,
		Name:          i.Name,
		Kind:          i.Kind,
		Host:          i.Host,
		Username:      i.Username,
		Password:      domain.RedactString(i.PasswordEncrypted),
		BasicUsername: i.BasicUsername,
		TLSSkipVerify: &i.TLSSkipVerify,
		SortOrder:     &i.SortOrder,
		IsActive:      i.IsActive,
	}
	if i.BasicPasswordEncrypted != nil {
		out.BasicPassword = domain.RedactString(*i.BasicPasswordEncrypted)
	}
	return json.Marshal(out)
}

// UnmarshalJSON keeps the current secrets when the payload echoes back a
// redacted value.
func (i *Instance) UnmarshalJSON(data []byte) error {
	var in instanceJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	i.ID = in.ID
	i.Name = in.Name
	i.Kind = in.Kind
	i.Host = in.Host
	i.Username = in.Username
	i.BasicUsername = in.BasicUsername
	i.IsActive = in.IsActive
	if in.TLSSkipVerify != nil {
		i.TLSSkipVerify = *in.TLSSkipVerify
	}
	if in.SortOrder != nil {
		i.SortOrder = *in.SortOrder
	}

	if in.Password != "" && !domain.IsRedactedString(in.Password) {
		i.PasswordEncrypted = in.Password
	}
	if in.BasicPassword != "" && !domain.IsRedactedString(in.BasicPassword) {
		i.BasicPasswordEncrypted = &in.BasicPassword
	}

	return nil
}

// InstanceParams carries the writable fields of an instance. Nil pointers on
// update leave the stored value alone; a pointer to "" clears optional fields.
type InstanceParams struct {
	Name          string
	Kind          backend.Kind
	Host          string
	Username      string
	Password      string
	BasicUsername *string
	BasicPassword *string
	TLSSkipVerify *bool
}

type InstanceStore struct {
	db            dbinterface.Querier
	encryptionKey []byte
}

func NewInstanceStore(db dbinterface.Querier, encryptionKey []byte) (*InstanceStore, error) {
	if len(encryptionKey) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}

	return &InstanceStore{
		db:            db,
		encryptionKey: encryptionKey,
	}, nil
}

// encrypt seals plaintext with AES-GCM and prefixes the nonce.
func (s *InstanceStore) encrypt(plaintext string) (string, error) {
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

func (s *InstanceStore) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", errors.New("malformed ciphertext")
	}

	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (s *InstanceStore) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// validateAndNormalizeHost accepts bare host[:port] and http(s) URLs.
func validateAndNormalizeHost(rawHost string) (string, error) {
	rawHost = strings.TrimSpace(rawHost)
	if rawHost == "" {
		return "", fmt.Errorf("%w: host cannot be empty", ErrInvalidInstance)
	}

	if !strings.Contains(rawHost, "://") {
		rawHost = "http://" + rawHost
	}

	u, err := url.Parse(rawHost)
	if err != nil {
		return "", fmt.Errorf("%w: invalid URL format: %w", ErrInvalidInstance, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q, must be http or https", ErrInvalidInstance, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: URL must include a host", ErrInvalidInstance)
	}

	return u.String(), nil
}

func (s *InstanceStore) Create(ctx context.Context, p InstanceParams) (*Instance, error) {
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", backend.ErrUnknownKind, p.Kind)
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidInstance)
	}

	host, err := validateAndNormalizeHost(p.Host)
	if err != nil {
		return nil, err
	}

	encryptedPassword, err := s.encrypt(p.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt password: %w", err)
	}

	var encryptedBasicPassword *string
	if p.BasicPassword != nil && *p.BasicPassword != "" {
		encrypted, err := s.encrypt(*p.BasicPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt basic auth password: %w", err)
		}
		encryptedBasicPassword = &encrypted
	}

	tlsSkipVerify := p.TLSSkipVerify != nil && *p.TLSSkipVerify

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids, err := s.internIdentity(ctx, tx, p.Name, host, p.Username, p.BasicUsername)
	if err != nil {
		return nil, err
	}

	var id int
	err = tx.QueryRowContext(ctx, `
		WITH next_sort AS (
			SELECT COALESCE(MAX(sort_order), -1) + 1 AS next_order FROM instances
		)
		INSERT INTO instances (
			name_id, kind, host_id, username_id, password_encrypted,
			basic_username_id, basic_password_encrypted, tls_skip_verify, sort_order
		)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, next_order FROM next_sort
		RETURNING id
	`, ids.name, string(p.Kind), ids.host, ids.username, encryptedPassword,
		ids.basicUsername, encryptedBasicPassword, tlsSkipVerify).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to insert instance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.Get(ctx, id)
}

type identityIDs struct {
	name, host, username int64
	basicUsername        sql.NullInt64
}

func (s *InstanceStore) internIdentity(ctx context.Context, tx dbinterface.TxQuerier, name, host, username string, basicUsername *string) (identityIDs, error) {
	ids, err := dbinterface.InternStringNullable(ctx, tx, &name, &host, &username, basicUsername)
	if err != nil {
		return identityIDs{}, fmt.Errorf("failed to intern strings: %w", err)
	}

	out := identityIDs{
		name:          ids[0].Int64,
		host:          ids[1].Int64,
		username:      ids[2].Int64,
		basicUsername: ids[3],
	}

	// Backends on localhost often run without auth.
	if !ids[2].Valid {
		if out.username, err = dbinterface.InternEmptyString(ctx, tx); err != nil {
			return identityIDs{}, err
		}
	}

	return out, nil
}

const instanceColumns = `id, name, kind, host, username, password_encrypted, basic_username, basic_password_encrypted, tls_skip_verify, sort_order, is_active`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*Instance, error) {
	var instance Instance
	var kind string
	var basicUsername, basicPassword sql.NullString

	if err := row.Scan(
		&instance.ID,
		&instance.Name,
		&kind,
		&instance.Host,
		&instance.Username,
		&instance.PasswordEncrypted,
		&basicUsername,
		&basicPassword,
		&instance.TLSSkipVerify,
		&instance.SortOrder,
		&instance.IsActive,
	); err != nil {
		return nil, err
	}

	instance.Kind = backend.Kind(kind)
	if basicUsername.Valid {
		instance.BasicUsername = &basicUsername.String
	}
	if basicPassword.Valid {
		instance.BasicPasswordEncrypted = &basicPassword.String
	}
	return &instance, nil
}

func (s *InstanceStore) Get(ctx context.Context, id int) (*Instance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances_view WHERE id = ?`, id)

	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return instance, nil
}

// GetByName resolves an instance by its case-insensitive name.
func (s *InstanceStore) GetByName(ctx context.Context, name string) (*Instance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances_view WHERE name = ? COLLATE NOCASE ORDER BY id LIMIT 1`, name)

	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return instance, nil
}

func (s *InstanceStore) List(ctx context.Context) ([]*Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+instanceColumns+`
		FROM instances_view
		ORDER BY sort_order ASC, name COLLATE NOCASE ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*Instance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}

	return instances, rows.Err()
}

// Update rewrites name, host and username, and only the secrets and flags
// that p sets. An empty Password keeps the stored one.
func (s *InstanceStore) Update(ctx context.Context, id int, p InstanceParams) (*Instance, error) {
	host, err := validateAndNormalizeHost(p.Host)
	if err != nil {
		return nil, err
	}
	if p.Kind != "" && !p.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", backend.ErrUnknownKind, p.Kind)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var basicUsername *string
	if p.BasicUsername != nil && *p.BasicUsername != "" {
		basicUsername = p.BasicUsername
	}

	ids, err := s.internIdentity(ctx, tx, p.Name, host, p.Username, basicUsername)
	if err != nil {
		return nil, err
	}

	query := "UPDATE instances SET name_id = ?, host_id = ?, username_id = ?"
	args := []any{ids.name, ids.host, ids.username}

	if p.Kind != "" {
		query += ", kind = ?"
		args = append(args, string(p.Kind))
	}

	if p.BasicUsername != nil {
		if *p.BasicUsername == "" {
			query += ", basic_username_id = NULL"
		} else {
			query += ", basic_username_id = ?"
			args = append(args, ids.basicUsername)
		}
	}

	if p.Password != "" && !domain.IsRedactedString(p.Password) {
		encrypted, err := s.encrypt(p.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt password: %w", err)
		}
		query += ", password_encrypted = ?"
		args = append(args, encrypted)
	}

	if p.BasicPassword != nil && !domain.IsRedactedString(*p.BasicPassword) {
		if *p.BasicPassword == "" {
			query += ", basic_password_encrypted = NULL"
		} else {
			encrypted, err := s.encrypt(*p.BasicPassword)
			if err != nil {
				return nil, fmt.Errorf("failed to encrypt basic auth password: %w", err)
			}
			query += ", basic_password_encrypted = ?"
			args = append(args, encrypted)
		}
	}

	if p.TLSSkipVerify != nil {
		query += ", tls_skip_verify = ?"
		args = append(args, *p.TLSSkipVerify)
	}

	query += " WHERE id = ?"
	args = append(args, id)

	if err := execOne(ctx, tx, query, args...); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.Get(ctx, id)
}

func (s *InstanceStore) SetActiveState(ctx context.Context, id int, active bool) (*Instance, error) {
	if err := execOne(ctx, s.db, `UPDATE instances SET is_active = ? WHERE id = ?`, active, id); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *InstanceStore) Delete(ctx context.Context, id int) error {
	return execOne(ctx, s.db, `DELETE FROM instances WHERE id = ?`, id)
}

// execOne runs a statement that must touch exactly the row it names.
func execOne(ctx context.Context, q dbinterface.TxQuerier, query string, args ...any) error {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// GetDecryptedPassword returns the decrypted password for an instance
func (s *InstanceStore) GetDecryptedPassword(instance *Instance) (string, error) {
	return s.decrypt(instance.PasswordEncrypted)
}

// GetDecryptedBasicPassword returns nil when the instance has no basic auth.
func (s *InstanceStore) GetDecryptedBasicPassword(instance *Instance) (*string, error) {
	if instance.BasicPasswordEncrypted == nil {
		return nil, nil
	}
	decrypted, err := s.decrypt(*instance.BasicPasswordEncrypted)
	if err != nil {
		return nil, err
	}
	return &decrypted, nil
}

// BackendConfig decrypts the instance secrets into a connection config.
func (s *InstanceStore) BackendConfig(instance *Instance, timeout time.Duration) (backend.Config, error) {
	password, err := s.GetDecryptedPassword(instance)
	if err != nil {
		return backend.Config{}, fmt.Errorf("failed to decrypt password: %w", err)
	}

	basicPassword, err := s.GetDecryptedBasicPassword(instance)
	if err != nil {
		return backend.Config{}, fmt.Errorf("failed to decrypt basic auth password: %w", err)
	}

	cfg := backend.Config{
		Kind:          instance.Kind,
		Host:          instance.Host,
		Username:      instance.Username,
		Password:      password,
		TLSSkipVerify: instance.TLSSkipVerify,
		Timeout:       timeout,
	}
	if instance.BasicUsername != nil && basicPassword != nil {
		cfg.BasicUsername = instance.BasicUsername
		cfg.BasicPassword = basicPassword
	}
	return cfg, nil
}
