package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSchema(t *testing.T) {
	pool := newFakePool()
	s := New(pool, nil)

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.Len(t, pool.execs, 1)
	for _, table := range []string{"companies", "tags", "lists", "contacts", "list_members", "import_runs"} {
		assert.Contains(t, pool.execs[0].sql, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}

	pool.execErr = errDB
	assert.ErrorIs(t, s.EnsureSchema(context.Background()), errDB)
}

func TestInsertTags(t *testing.T) {
	pool := newFakePool()
	pool.nextID = 40
	s := New(pool, nil)

	ids, err := s.InsertTags(context.Background(), []string{" vip ", "golf"})
	require.NoError(t, err)

	assert.Equal(t, []int64{40, 41}, ids)
	tx := pool.lastTx()
	require.NotNil(t, tx)
	assert.True(t, tx.committed)
	require.Len(t, tx.batch, 2)
	assert.Equal(t, []any{"vip"}, tx.batch[0].args)
	assert.Contains(t, tx.batch[0].sql, "INSERT INTO tags")
}

func TestInsertReturning_FailureRollsBack(t *testing.T) {
	pool := newFakePool()
	pool.failAt = 1
	s := New(pool, nil)

	ids, err := s.InsertLists(context.Background(), []string{"a", "b", "c"})

	assert.Nil(t, ids)
	assert.ErrorIs(t, err, errDB)
	assert.ErrorContains(t, err, "record 1")
	tx := pool.lastTx()
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestInsertReturning_Empty(t *testing.T) {
	pool := newFakePool()
	s := New(pool, nil)

	ids, err := s.InsertTags(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, ids)
	assert.Empty(t, pool.txs)
}

func TestInsertReturning_BeginError(t *testing.T) {
	pool := newFakePool()
	pool.beginErr = errDB
	s := New(pool, nil)

	_, err := s.InsertTags(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, errDB)
}

func TestInsertContacts(t *testing.T) {
	pool := newFakePool()
	s := New(pool, nil)

	ids, err := s.InsertContacts(context.Background(), []ContactParams{
		{Email: "ada@example.com", FirstName: "Ada", CompanyID: 3, TagIDs: []int64{1, 2}},
		{Email: "bob@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	batch := pool.lastTx().batch
	require.Len(t, batch, 2)
	assert.Equal(t, pgtype.Int8{Int64: 3, Valid: true}, batch[0].args[4])
	assert.Equal(t, []int64{1, 2}, batch[0].args[5])
	assert.Equal(t, pgtype.Int8{}, batch[1].args[4])
	assert.Equal(t, []int64{}, batch[1].args[5])
	assert.Equal(t, []int64{}, batch[1].args[6])
}

func TestInsertCompanies(t *testing.T) {
	pool := newFakePool()
	s := New(pool, nil)

	_, err := s.InsertCompanies(context.Background(), []Company{{Name: " Acme ", Domain: "acme.io"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"Acme", "acme.io"}, pool.lastTx().batch[0].args)
}

func TestUpdateContacts(t *testing.T) {
	pool := newFakePool()
	s := New(pool, nil)

	err := s.UpdateContacts(context.Background(), []ContactParams{{ID: 9, FirstName: "Ada"}})
	require.NoError(t, err)
	batch := pool.lastTx().batch
	require.Len(t, batch, 1)
	assert.Equal(t, int64(9), batch[0].args[0])
	assert.True(t, strings.HasPrefix(strings.TrimSpace(batch[0].sql), "UPDATE contacts"))
}

func TestUpdateContacts_NotFound(t *testing.T) {
	pool := newFakePool()
	pool.affected = 0
	s := New(pool, nil)

	err := s.UpdateContacts(context.Background(), []ContactParams{{ID: 9}})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, pool.lastTx().rolledBack)
}

func TestInsertListMembers(t *testing.T) {
	pool := newFakePool()
	s := New(pool, nil)

	ids, err := s.InsertListMembers(context.Background(), []ListMemberParams{{ContactID: 1, ListID: 2}})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
	assert.Equal(t, []any{int64(1), int64(2)}, pool.lastTx().batch[0].args)
}

func TestLookups(t *testing.T) {
	pool := newFakePool()
	s := New(pool, nil)

	pool.rows = [][]any{{int64(1), "Acme", "acme.io"}}
	companies, err := s.Companies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Company{{ID: 1, Name: "Acme", Domain: "acme.io"}}, companies)

	pool.rows = [][]any{{int64(2), "VIP"}, {int64(3), "Golf"}}
	tags, err := s.Tags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Named{{2, "VIP"}, {3, "Golf"}}, tags)
	assert.Contains(t, pool.query.sql, `FROM "tags"`)

	pool.rows = nil
	lists, err := s.Lists(context.Background())
	require.NoError(t, err)
	assert.Empty(t, lists)

	pool.rows = [][]any{{int64(5), "ada@example.com"}}
	refs, err := s.ContactEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ContactRef{{ID: 5, Email: "ada@example.com"}}, refs)

	pool.queryErr = errDB
	_, err = s.Companies(context.Background())
	assert.ErrorIs(t, err, errDB)
}

func TestRuns(t *testing.T) {
	pool := newFakePool()
	s := New(pool, nil)

	id := uuid.New()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := RunRecord{
		ID:         id,
		Profile:    "contacts",
		FileName:   "contacts.csv",
		Status:     "completed",
		TotalRows:  3,
		DoneRows:   2,
		ErrorRows:  1,
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
	}
	require.NoError(t, s.SaveRun(context.Background(), rec))
	require.Len(t, pool.execs, 1)
	assert.Equal(t, pgtype.UUID{Bytes: id, Valid: true}, pool.execs[0].args[0])

	pool.rows = [][]any{{
		pgtype.UUID{Bytes: id, Valid: true}, "contacts", "contacts.csv", "completed",
		3, 2, 1, 0, "", started, started.Add(2 * time.Second),
	}}
	runs, err := s.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rec, runs[0])
	assert.Equal(t, 2*time.Second, runs[0].Duration())
	assert.Equal(t, []any{50}, pool.query.args)
}

func TestReset(t *testing.T) {
	pool := newFakePool()
	s := New(pool, nil)

	require.NoError(t, s.Reset(context.Background()))
	tx := pool.lastTx()
	require.Len(t, tx.execs, len(resetTables))
	assert.Equal(t, `TRUNCATE "list_members" RESTART IDENTITY CASCADE`, tx.execs[0].sql)
	assert.True(t, tx.committed)
}

func TestDatabaseName(t *testing.T) {
	assert.Equal(t, "crm", DatabaseName("postgres://user:pw@localhost:5432/crm?sslmode=disable"))
	assert.Equal(t, "", DatabaseName("postgres://localhost"))
	assert.Equal(t, "", DatabaseName("://bad"))
}
