package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalops/docharvest/internal/harvest"
)

func janKey() harvest.RequestKey {
	return harvest.RequestKey{
		CompanyCode: 42,
		Model:       harvest.ModelNFe,
		Situation:   harvest.SituationAuthorized,
		Period: harvest.Period{
			Initial: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Final:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		},
	}
}

func requestRow(key harvest.RequestKey, status harvest.Status, queued bool) *pgxmock.Rows {
	now := time.Unix(1700000000, 0).UTC()
	return pgxmock.NewRows([]string{
		"id", "company_code", "document_model", "situation", "initial_period", "final_period",
		"status", "queued", "link_download", "file_name", "file_path", "screenshot_path",
		"quantity_notes", "warning_message", "created_at", "updated_at",
	}).AddRow(
		uuid.New(), key.CompanyCode, string(key.Model), string(key.Situation),
		key.Period.Initial, key.Period.Final,
		status, queued, "", "", "", "", 0, "", now, now,
	)
}

func TestEnsureRequestInsertsThenReads(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	key := janKey()

	mock.ExpectExec("INSERT INTO retrieval_requests").
		WithArgs(pgxmock.AnyArg(), key.CompanyCode, "NF-e", "authorized", key.Period.Initial, key.Period.Final).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT (.+) FROM retrieval_requests").
		WithArgs(key.CompanyCode, "NF-e", "authorized", key.Period.Initial, key.Period.Final).
		WillReturnRows(requestRow(key, harvest.StatusPending, false))

	entry, err := store.EnsureRequest(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, harvest.StatusPending, entry.Status)
	assert.False(t, entry.Queued)
	assert.Equal(t, key, entry.Key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByKeyMissing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	key := janKey()
	mock.ExpectQuery("SELECT (.+) FROM retrieval_requests").
		WithArgs(key.CompanyCode, "NF-e", "authorized", key.Period.Initial, key.Period.Final).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err = store.FindByKey(context.Background(), key)
	require.ErrorIs(t, err, harvest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordLinkFoundEnsuresThenUpdates(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	key := janKey()
	mock.ExpectExec("INSERT INTO retrieval_requests").
		WithArgs(pgxmock.AnyArg(), key.CompanyCode, "NF-e", "authorized",
			key.Period.Initial, key.Period.Final).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec("UPDATE retrieval_requests").
		WithArgs(key.CompanyCode, "NF-e", "authorized",
			key.Period.Initial, key.Period.Final, "http://x", "f.pdf").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.RecordLinkFound(context.Background(), key, "http://x", "f.pdf"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordErrorOnAbsentKeyAppliesMutation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	// The insert creates the row, so the following update must still carry
	// the error status and message instead of leaving a default entry.
	key := janKey()
	mock.ExpectExec("INSERT INTO retrieval_requests").
		WithArgs(pgxmock.AnyArg(), key.CompanyCode, "NF-e", "authorized",
			key.Period.Initial, key.Period.Final).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE retrieval_requests").
		WithArgs(key.CompanyCode, "NF-e", "authorized",
			key.Period.Initial, key.Period.Final, "captcha failure", "/prints/x.png").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.RecordError(context.Background(), key, "captcha failure", "/prints/x.png"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEligibleForDiscoveryDefaultsToPending(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	key := janKey()
	mock.ExpectQuery("SELECT (.+) FROM retrieval_requests").
		WithArgs([]string{"pending"}).
		WillReturnRows(requestRow(key, harvest.StatusPending, false))

	entries, err := store.ListEligibleForDiscovery(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, key, entries[0].Key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListQueuedNotDownloaded(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	key := janKey()
	mock.ExpectQuery("SELECT (.+) FROM retrieval_requests").
		WillReturnRows(requestRow(key, harvest.StatusProcessing, true))

	entries, err := store.ListQueuedNotDownloaded(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Queued)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityLeaseContention(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	holder := uuid.New()
	ttl := 15 * time.Minute

	mock.ExpectExec("INSERT INTO identity_lease").
		WithArgs("host-identity", holder, ttl).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	ok, err := store.AcquireIdentityLease(context.Background(), holder, ttl)
	require.NoError(t, err)
	assert.True(t, ok)

	// Held by another process: the conditional upsert touches no rows.
	mock.ExpectExec("INSERT INTO identity_lease").
		WithArgs("host-identity", holder, ttl).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	ok, err = store.AcquireIdentityLease(context.Background(), holder, ttl)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec("DELETE FROM identity_lease").
		WithArgs("host-identity", holder).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, store.ReleaseIdentityLease(context.Background(), holder))
	require.NoError(t, mock.ExpectationsWereMet())
}
