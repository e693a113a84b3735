// Package store implements the persisted state layout (spec §6) against
// Postgres: users, authenticators, derived addresses, recovery emails,
// and per-account preferences. Every method here is one round trip; the
// Orchestrator and the agents own retry/caching policy, not this package.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
	"github.com/near-passkey/wallet-engine/internal/store/migrations"
)

// User is one row of users[account_id] (spec §6).
type User struct {
	AccountID            string    `db:"account_id"`
	DeviceNumber         int       `db:"device_number"`
	ClientNearPublicKey  string    `db:"client_near_public_key"`
	LastUpdated          time.Time `db:"last_updated"`
	PasskeyCredentialID  string    `db:"passkey_credential_id"`
	EncryptedVRFKeypair  []byte    `db:"encrypted_vrf_keypair"`
	ServerEncryptedVRF   []byte    `db:"server_encrypted_vrf_keypair"`
}

// Authenticator is one row of authenticators[(account_id, credential_id)].
type Authenticator struct {
	AccountID           string    `db:"account_id"`
	CredentialID        string    `db:"credential_id"`
	DeviceNumber        int       `db:"device_number"`
	CredentialPublicKeyCOSE []byte `db:"credential_public_key_cose"`
	Transports          []string  `db:"-"`
	TransportsRaw       []byte    `db:"transports"`
	Name                string    `db:"name"`
	RegisteredAt        time.Time `db:"registered_at"`
	SyncedAt            time.Time `db:"synced_at"`
	VRFPublicKey        string    `db:"vrf_public_key"`
}

// DerivedAddress is one row of derived_addresses[(account_id, contract_id, path)].
type DerivedAddress struct {
	AccountID  string    `db:"account_id"`
	ContractID string    `db:"contract_id"`
	Path       string    `db:"path"`
	Address    string    `db:"address"`
	CreatedAt  time.Time `db:"created_at"`
}

// RecoveryEmail is one entry of recovery_emails[account_id].
type RecoveryEmail struct {
	AccountID      string `db:"account_id"`
	HashHex        string `db:"hash_hex"`
	EmailCanonical string `db:"email_canonical"`
}

// Preferences is one row of preferences[account_id] (spec §6). The
// ConfirmationConfig sub-struct is stored as JSON; internal/confirmation
// owns its normalization semantics, this package only persists it.
type Preferences struct {
	AccountID        string `db:"account_id"`
	Theme            string `db:"theme"`
	ConfirmationJSON []byte `db:"confirmation_config"`
	SignerMode       string `db:"signer_mode"`
}

// Store is a Postgres-backed implementation of the persisted state layout.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn, verifies the connection with a ping, and applies
// any pending schema migrations before returning.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, errors.InternalInvariant("postgres connect", err)
	}
	if err := migrations.Apply(ctx, db.DB); err != nil {
		db.Close()
		return nil, errors.InternalInvariant("apply migrations", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open *sqlx.DB, for callers that share one
// connection pool across several stores or that inject a sqlmock DB in
// tests.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the Postgres connection is reachable, for cmd/walletd's
// /readyz probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertUser inserts or updates a user row, keyed on account_id.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	u.LastUpdated = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (account_id, device_number, client_near_public_key, last_updated, passkey_credential_id, encrypted_vrf_keypair, server_encrypted_vrf_keypair)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id) DO UPDATE SET
			device_number = EXCLUDED.device_number,
			client_near_public_key = EXCLUDED.client_near_public_key,
			last_updated = EXCLUDED.last_updated,
			passkey_credential_id = EXCLUDED.passkey_credential_id,
			encrypted_vrf_keypair = EXCLUDED.encrypted_vrf_keypair,
			server_encrypted_vrf_keypair = EXCLUDED.server_encrypted_vrf_keypair
	`, u.AccountID, u.DeviceNumber, u.ClientNearPublicKey, u.LastUpdated, u.PasskeyCredentialID, u.EncryptedVRFKeypair, nullableBytes(u.ServerEncryptedVRF))
	if err != nil {
		return errors.InternalInvariant("upsert user", err)
	}
	return nil
}

// GetUser fetches a user by account_id.
func (s *Store) GetUser(ctx context.Context, accountID string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `
		SELECT account_id, device_number, client_near_public_key, last_updated, passkey_credential_id, encrypted_vrf_keypair, server_encrypted_vrf_keypair
		FROM users WHERE account_id = $1
	`, accountID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("user", accountID)
	}
	if err != nil {
		return nil, errors.InternalInvariant("get user", err)
	}
	return &u, nil
}

// UpsertAuthenticator inserts or updates an authenticator row, keyed on
// (account_id, credential_id).
func (s *Store) UpsertAuthenticator(ctx context.Context, a Authenticator) error {
	transportsJSON, err := json.Marshal(a.Transports)
	if err != nil {
		return errors.InternalInvariant("marshal transports", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO authenticators (account_id, credential_id, device_number, credential_public_key_cose, transports, name, registered_at, synced_at, vrf_public_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (account_id, credential_id) DO UPDATE SET
			device_number = EXCLUDED.device_number,
			credential_public_key_cose = EXCLUDED.credential_public_key_cose,
			transports = EXCLUDED.transports,
			name = EXCLUDED.name,
			synced_at = EXCLUDED.synced_at,
			vrf_public_key = EXCLUDED.vrf_public_key
	`, a.AccountID, a.CredentialID, a.DeviceNumber, a.CredentialPublicKeyCOSE, transportsJSON, a.Name, a.RegisteredAt, a.SyncedAt, a.VRFPublicKey)
	if err != nil {
		return errors.InternalInvariant("upsert authenticator", err)
	}
	return nil
}

// ListAuthenticators returns every authenticator registered for account_id.
func (s *Store) ListAuthenticators(ctx context.Context, accountID string) ([]Authenticator, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT account_id, credential_id, device_number, credential_public_key_cose, transports, name, registered_at, synced_at, vrf_public_key
		FROM authenticators WHERE account_id = $1 ORDER BY registered_at
	`, accountID)
	if err != nil {
		return nil, errors.InternalInvariant("list authenticators", err)
	}
	defer rows.Close()

	var out []Authenticator
	for rows.Next() {
		var a Authenticator
		if err := rows.Scan(&a.AccountID, &a.CredentialID, &a.DeviceNumber, &a.CredentialPublicKeyCOSE, &a.TransportsRaw, &a.Name, &a.RegisteredAt, &a.SyncedAt, &a.VRFPublicKey); err != nil {
			return nil, errors.InternalInvariant("scan authenticator", err)
		}
		if len(a.TransportsRaw) > 0 {
			_ = json.Unmarshal(a.TransportsRaw, &a.Transports)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertDerivedAddress inserts or updates a derived-address row, keyed on
// (account_id, contract_id, path).
func (s *Store) UpsertDerivedAddress(ctx context.Context, d DerivedAddress) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO derived_addresses (account_id, contract_id, path, address, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, contract_id, path) DO UPDATE SET address = EXCLUDED.address
	`, d.AccountID, d.ContractID, d.Path, d.Address, d.CreatedAt)
	if err != nil {
		return errors.InternalInvariant("upsert derived address", err)
	}
	return nil
}

// GetDerivedAddress fetches one derived address by its composite key.
func (s *Store) GetDerivedAddress(ctx context.Context, accountID, contractID, path string) (*DerivedAddress, error) {
	var d DerivedAddress
	err := s.db.GetContext(ctx, &d, `
		SELECT account_id, contract_id, path, address, created_at
		FROM derived_addresses WHERE account_id = $1 AND contract_id = $2 AND path = $3
	`, accountID, contractID, path)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("derived address", accountID+"/"+contractID+"/"+path)
	}
	if err != nil {
		return nil, errors.InternalInvariant("get derived address", err)
	}
	return &d, nil
}

// AddRecoveryEmail appends a recovery email entry for account_id. The
// email is stored only as (hash_hex, email_canonical): verification and
// delivery are out of this package's scope.
func (s *Store) AddRecoveryEmail(ctx context.Context, e RecoveryEmail) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recovery_emails (account_id, hash_hex, email_canonical)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, hash_hex) DO NOTHING
	`, e.AccountID, e.HashHex, e.EmailCanonical)
	if err != nil {
		return errors.InternalInvariant("add recovery email", err)
	}
	return nil
}

// ListRecoveryEmailHashes returns the H(email_canonical) values for
// account_id (spec §6 get_recovery_emails contract view function).
func (s *Store) ListRecoveryEmailHashes(ctx context.Context, accountID string) ([]string, error) {
	var hashes []string
	err := s.db.SelectContext(ctx, &hashes, `
		SELECT hash_hex FROM recovery_emails WHERE account_id = $1 ORDER BY hash_hex
	`, accountID)
	if err != nil {
		return nil, errors.InternalInvariant("list recovery email hashes", err)
	}
	return hashes, nil
}

// UpsertPreferences stores an account's UI preferences, keyed on account_id.
func (s *Store) UpsertPreferences(ctx context.Context, p Preferences) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (account_id, theme, confirmation_config, signer_mode)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO UPDATE SET
			theme = EXCLUDED.theme,
			confirmation_config = EXCLUDED.confirmation_config,
			signer_mode = EXCLUDED.signer_mode
	`, p.AccountID, p.Theme, p.ConfirmationJSON, p.SignerMode)
	if err != nil {
		return errors.InternalInvariant("upsert preferences", err)
	}
	return nil
}

// GetPreferences fetches an account's UI preferences.
func (s *Store) GetPreferences(ctx context.Context, accountID string) (*Preferences, error) {
	var p Preferences
	err := s.db.GetContext(ctx, &p, `
		SELECT account_id, theme, confirmation_config, signer_mode
		FROM preferences WHERE account_id = $1
	`, accountID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("preferences", accountID)
	}
	if err != nil {
		return nil, errors.InternalInvariant("get preferences", err)
	}
	return &p, nil
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
