package persist

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/kotoshop/internal/config"
)

// exerciseBackend runs the contract every backend must satisfy.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, b.Ping(ctx))

	_, err := b.Load(ctx, "cart")
	assert.True(t, IsNotFound(err))

	require.NoError(t, b.Save(ctx, "cart", []byte(`{"items":[1]}`)))
	require.NoError(t, b.Save(ctx, "cart", []byte(`{"items":[1,2]}`)))
	got, err := b.Load(ctx, "cart")
	require.NoError(t, err)
	assert.Equal(t, `{"items":[1,2]}`, string(got))

	require.NoError(t, b.Delete(ctx, "cart"))
	require.NoError(t, b.Delete(ctx, "cart"))
	_, err = b.Load(ctx, "cart")
	assert.True(t, IsNotFound(err))
}

func TestMemoryBackend(t *testing.T) {
	m := NewMemory()
	exerciseBackend(t, m)

	require.NoError(t, m.Save(context.Background(), "auth", []byte("x")))
	assert.Equal(t, []string{"auth"}, m.Keys())

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Ping(context.Background()), ErrClosed)
	assert.ErrorIs(t, m.Save(context.Background(), "auth", nil), ErrClosed)
}

func TestSQLiteBackend(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "state.db")
	b, err := NewSQL(context.Background(), "sqlite3", dsn)
	require.NoError(t, err)
	defer b.Close()

	exerciseBackend(t, b)
}

func TestSQLiteBackendSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "state.db")

	b, err := NewSQL(ctx, "sqlite3", dsn)
	require.NoError(t, err)
	require.NoError(t, b.Save(ctx, "order", []byte(`{"status":"succeeded"}`)))
	require.NoError(t, b.Close())

	b, err = NewSQL(ctx, "sqlite3", dsn)
	require.NoError(t, err)
	defer b.Close()
	got, err := b.Load(ctx, "order")
	require.NoError(t, err)
	assert.Equal(t, `{"status":"succeeded"}`, string(got))
}

func TestNewSQLRequiresDSN(t *testing.T) {
	_, err := NewSQL(context.Background(), "postgres", "")
	assert.True(t, IsConnection(err))
}

func mockDB(t *testing.T, driver string) (*SQL, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS kotoshop_state")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewSQLFromDB(context.Background(), sqlx.NewDb(db, driver))
	require.NoError(t, err)
	return s, mock
}

func TestPostgresDialect(t *testing.T) {
	s, mock := mockDB(t, "postgres")
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("VALUES ($1, $2, $3)") + ".*" + regexp.QuoteMeta("ON CONFLICT (slice_key) DO UPDATE")).
		WithArgs("cart", `{"items":[]}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.Save(ctx, "cart", []byte(`{"items":[]}`)))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM kotoshop_state WHERE slice_key = $1")).
		WithArgs("cart").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(`{"items":[]}`))
	got, err := s.Load(ctx, "cart")
	require.NoError(t, err)
	assert.Equal(t, `{"items":[]}`, string(got))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM kotoshop_state WHERE slice_key = $1")).
		WithArgs("auth").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	_, err = s.Load(ctx, "auth")
	assert.True(t, IsNotFound(err))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM kotoshop_state WHERE slice_key = $1")).
		WithArgs("cart").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Delete(ctx, "cart"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLDialect(t *testing.T) {
	s, mock := mockDB(t, "mysql")

	mock.ExpectExec(regexp.QuoteMeta("VALUES (?, ?, ?)") + ".*" + regexp.QuoteMeta("ON DUPLICATE KEY UPDATE")).
		WithArgs("auth", `{"token":"t"}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.Save(context.Background(), "auth", []byte(`{"token":"t"}`)))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSealedBackend(t *testing.T) {
	inner := NewMemory()
	s, err := NewSealed(context.Background(), inner, "passphrase")
	require.NoError(t, err)

	exerciseBackend(t, s)

	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "auth", []byte(`{"token":"secret"}`)))

	raw, err := inner.Load(ctx, "auth")
	require.NoError(t, err)
	assert.True(t, IsSealed(raw))
	assert.NotContains(t, string(raw), "secret")

	plain, err := s.Load(ctx, "auth")
	require.NoError(t, err)
	assert.Equal(t, `{"token":"secret"}`, string(plain))
}

func TestSealedBackendRejects(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	s, err := NewSealed(ctx, inner, "right")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "auth", []byte(`{}`)))

	wrong, err := NewSealed(ctx, inner, "wrong")
	require.NoError(t, err)
	_, err = wrong.Load(ctx, "auth")
	assert.ErrorIs(t, err, ErrSealed)

	// a value sealed for one key cannot be moved to another
	raw, _ := inner.Load(ctx, "auth")
	require.NoError(t, inner.Save(ctx, "cart", raw))
	_, err = s.Load(ctx, "cart")
	assert.ErrorIs(t, err, ErrSealed)

	require.NoError(t, inner.Save(ctx, "order", []byte(`{"plain":true}`)))
	_, err = s.Load(ctx, "order")
	assert.ErrorIs(t, err, ErrSealed)
}

func TestSealedSalt(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	s, err := NewSealed(ctx, inner, "passphrase")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "auth", []byte(`{"token":"t"}`)))

	salt, err := inner.Load(ctx, SaltKey)
	require.NoError(t, err)
	assert.Len(t, salt, saltSize)

	// a reopened backend reuses the stored salt
	again, err := NewSealed(ctx, inner, "passphrase")
	require.NoError(t, err)
	plain, err := again.Load(ctx, "auth")
	require.NoError(t, err)
	assert.Equal(t, `{"token":"t"}`, string(plain))
	reread, err := inner.Load(ctx, SaltKey)
	require.NoError(t, err)
	assert.Equal(t, salt, reread)

	// the same passphrase under another salt derives another key
	other := NewMemory()
	foreign, err := NewSealed(ctx, other, "passphrase")
	require.NoError(t, err)
	raw, err := inner.Load(ctx, "auth")
	require.NoError(t, err)
	require.NoError(t, other.Save(ctx, "auth", raw))
	_, err = foreign.Load(ctx, "auth")
	assert.ErrorIs(t, err, ErrSealed)

	require.NoError(t, inner.Save(ctx, SaltKey, []byte("short")))
	_, err = NewSealed(ctx, inner, "passphrase")
	assert.ErrorIs(t, err, ErrSealed)
}

func TestOpen(t *testing.T) {
	t.Setenv("KOTOSHOP_HOME", t.TempDir())
	config.ResetEnv()
	t.Cleanup(config.ResetEnv)

	b, err := Open(context.Background(), &config.ShopEnv{StateBackend: "sqlite"})
	require.NoError(t, err)
	defer b.Close()
	assert.IsType(t, &SQL{}, b)

	b, err = Open(context.Background(), &config.ShopEnv{StateBackend: "memory", StateKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &Sealed{}, b)

	_, err = Open(context.Background(), &config.ShopEnv{StateBackend: "etcd"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
