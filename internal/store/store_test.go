package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

func TestUpsertUserExecutesOnConflictUpdate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs("alice.testnet", 1, "ed25519:abc", sqlmock.AnyArg(), "cred-1", []byte("vrf-keypair"), nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.UpsertUser(context.Background(), User{
		AccountID:           "alice.testnet",
		DeviceNumber:        1,
		ClientNearPublicKey: "ed25519:abc",
		PasskeyCredentialID: "cred-1",
		EncryptedVRFKeypair: []byte("vrf-keypair"),
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserReturnsNotFoundOnNoRows(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM users WHERE account_id = \$1`).
		WithArgs("ghost.testnet").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetUser(context.Background(), "ghost.testnet")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "WALLET_NOT_FOUND")
}

func TestGetUserScansRow(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"account_id", "device_number", "client_near_public_key", "last_updated",
		"passkey_credential_id", "encrypted_vrf_keypair", "server_encrypted_vrf_keypair",
	}).AddRow("alice.testnet", 1, "ed25519:abc", now, "cred-1", []byte("vrf-keypair"), nil)

	mock.ExpectQuery(`SELECT .* FROM users WHERE account_id = \$1`).
		WithArgs("alice.testnet").
		WillReturnRows(rows)

	u, err := s.GetUser(context.Background(), "alice.testnet")

	require.NoError(t, err)
	assert.Equal(t, "alice.testnet", u.AccountID)
	assert.Equal(t, "cred-1", u.PasskeyCredentialID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAuthenticatorsUnmarshalsTransports(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"account_id", "credential_id", "device_number", "credential_public_key_cose",
		"transports", "name", "registered_at", "synced_at", "vrf_public_key",
	}).AddRow("alice.testnet", "cred-1", 1, []byte("cose"), []byte(`["internal","hybrid"]`), "iPhone", now, now, "ed25519:vrfpub")

	mock.ExpectQuery(`FROM authenticators WHERE account_id = \$1`).
		WithArgs("alice.testnet").
		WillReturnRows(rows)

	list, err := s.ListAuthenticators(context.Background(), "alice.testnet")

	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"internal", "hybrid"}, list[0].Transports)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDerivedAddressDefaultsCreatedAt(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO derived_addresses`).
		WithArgs("alice.testnet", "contract.testnet", "m/0", "derived.testnet", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.UpsertDerivedAddress(context.Background(), DerivedAddress{
		AccountID:  "alice.testnet",
		ContractID: "contract.testnet",
		Path:       "m/0",
		Address:    "derived.testnet",
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDerivedAddressReturnsNotFoundOnNoRows(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM derived_addresses WHERE account_id = \$1 AND contract_id = \$2 AND path = \$3`).
		WithArgs("alice.testnet", "contract.testnet", "m/0").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetDerivedAddress(context.Background(), "alice.testnet", "contract.testnet", "m/0")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "WALLET_NOT_FOUND")
}

func TestAddRecoveryEmailIgnoresDuplicateHash(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO recovery_emails`).
		WithArgs("alice.testnet", "deadbeef", "alice@example.com").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.AddRecoveryEmail(context.Background(), RecoveryEmail{
		AccountID:      "alice.testnet",
		HashHex:        "deadbeef",
		EmailCanonical: "alice@example.com",
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecoveryEmailHashesReturnsSortedHashes(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"hash_hex"}).AddRow("aaa").AddRow("bbb")
	mock.ExpectQuery(`SELECT hash_hex FROM recovery_emails WHERE account_id = \$1`).
		WithArgs("alice.testnet").
		WillReturnRows(rows)

	hashes, err := s.ListRecoveryEmailHashes(context.Background(), "alice.testnet")

	require.NoError(t, err)
	assert.Equal(t, []string{"aaa", "bbb"}, hashes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertAndGetPreferencesRoundTrip(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO preferences`).
		WithArgs("alice.testnet", "dark", []byte(`{}`), "local").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.UpsertPreferences(context.Background(), Preferences{
		AccountID:        "alice.testnet",
		Theme:            "dark",
		ConfirmationJSON: []byte(`{}`),
		SignerMode:       "local",
	})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"account_id", "theme", "confirmation_config", "signer_mode"}).
		AddRow("alice.testnet", "dark", []byte(`{}`), "local")
	mock.ExpectQuery(`FROM preferences WHERE account_id = \$1`).
		WithArgs("alice.testnet").
		WillReturnRows(rows)

	p, err := s.GetPreferences(context.Background(), "alice.testnet")
	require.NoError(t, err)
	assert.Equal(t, "dark", p.Theme)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPreferencesReturnsNotFoundOnNoRows(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM preferences WHERE account_id = \$1`).
		WithArgs("ghost.testnet").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetPreferences(context.Background(), "ghost.testnet")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "WALLET_NOT_FOUND")
}
