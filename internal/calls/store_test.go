package calls

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicegate/internal/tenants"
	"voicegate/internal/usage"
)

var t0 = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func newMemory(t *testing.T) (*MemoryStore, *tenants.MemoryRepo) {
	t.Helper()
	repo := tenants.NewMemoryRepo(tenants.Tenant{ID: "t1", Numbers: []string{"+15551111"}, TrialMinutesTotal: intPtr(30)})
	return NewMemoryStore(repo), repo
}

func newSession(callID string, billable bool) NewSession {
	return NewSession{
		CallID:        callID,
		TenantID:      "t1",
		CallerNumber:  "+15559999",
		CalledNumber:  "+15551111",
		Direction:     tenants.DirectionInbound,
		CarrierStatus: "ringing",
		Billable:      billable,
		StartedAt:     t0,
	}
}

func completed(callID string, duration int) StatusUpdate {
	return StatusUpdate{
		CallID:          callID,
		Status:          StatusCompleted,
		CarrierStatus:   "completed",
		DurationSeconds: &duration,
		At:              t0.Add(time.Minute),
		Cost:            decimal.RequireFromString("2.00"),
		Currency:        "usd",
		Minutes:         (duration + 59) / 60,
	}
}

func TestMemoryStore_UpsertIsIdempotent(t *testing.T) {
	store, _ := newMemory(t)
	ctx := context.Background()

	first, created, err := store.UpsertOnInitiation(ctx, newSession("CA1", true))
	require.NoError(t, err)
	assert.True(t, created)

	again := newSession("CA1", true)
	again.CallerNumber = "+10000000"
	second, created, err := store.UpsertOnInitiation(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.CallerNumber, second.CallerNumber)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_CreatedAtIsRowCreationTime(t *testing.T) {
	store, _ := newMemory(t)
	now := t0.Add(3 * time.Hour)
	store.Now = func() time.Time { return now }

	s, created, err := store.UpsertOnInitiation(context.Background(), newSession("CA1", true))
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, t0, s.StartedAt)
	assert.Equal(t, now, s.CreatedAt)
	assert.Equal(t, now, s.UpdatedAt)
}

func TestMemoryStore_ConcurrentFirstSightConverges(t *testing.T) {
	store, _ := newMemory(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := store.UpsertOnInitiation(ctx, newSession("CA1", true))
			if err == nil && created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, createdCount)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_SettlesOnceAndIgnoresReplay(t *testing.T) {
	store, repo := newMemory(t)
	ctx := context.Background()
	_, _, err := store.UpsertOnInitiation(ctx, newSession("CA1", true))
	require.NoError(t, err)

	res, err := store.ApplyStatus(ctx, completed("CA1", 47))
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.True(t, res.Advanced)
	assert.Equal(t, 1, res.MinutesCharged)

	replay, err := store.ApplyStatus(ctx, completed("CA1", 999))
	require.NoError(t, err)
	assert.False(t, replay.Settled)
	assert.False(t, replay.Advanced)
	assert.Equal(t, 0, replay.MinutesCharged)

	s, err := store.Get(ctx, "CA1")
	require.NoError(t, err)
	require.NotNil(t, s.DurationSeconds)
	assert.Equal(t, 47, *s.DurationSeconds)
	assert.True(t, s.CostAmount.Equal(decimal.RequireFromString("2.00")))
	assert.Equal(t, "USD", s.CostCurrency)

	tn, _ := repo.Get("t1")
	assert.Equal(t, 1, tn.TrialMinutesUsed)
}

func TestMemoryStore_ConcurrentTerminalReplaysChargeOnce(t *testing.T) {
	store, repo := newMemory(t)
	ctx := context.Background()
	_, _, err := store.UpsertOnInitiation(ctx, newSession("CA1", true))
	require.NoError(t, err)

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled []StatusResult
		winner  int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(duration int) {
			defer wg.Done()
			res, err := store.ApplyStatus(ctx, completed("CA1", duration))
			assert.NoError(t, err)
			if res.Settled {
				mu.Lock()
				settled = append(settled, res)
				winner = duration
				mu.Unlock()
			}
		}(60 * (i + 1))
	}
	wg.Wait()

	require.Len(t, settled, 1)
	assert.Equal(t, winner/60, settled[0].MinutesCharged)

	s, err := store.Get(ctx, "CA1")
	require.NoError(t, err)
	require.NotNil(t, s.DurationSeconds)
	assert.Equal(t, winner, *s.DurationSeconds)

	tn, _ := repo.Get("t1")
	assert.Equal(t, winner/60, tn.TrialMinutesUsed)
}

func TestMemoryStore_StatusNeverMovesBackward(t *testing.T) {
	store, _ := newMemory(t)
	ctx := context.Background()
	_, _, err := store.UpsertOnInitiation(ctx, newSession("CA1", true))
	require.NoError(t, err)

	_, err = store.ApplyStatus(ctx, StatusUpdate{CallID: "CA1", Status: StatusInProgress, CarrierStatus: "in-progress", At: t0})
	require.NoError(t, err)
	res, err := store.ApplyStatus(ctx, StatusUpdate{CallID: "CA1", Status: StatusRinging, CarrierStatus: "ringing", At: t0})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, res.Status)

	res, err = store.ApplyStatus(ctx, StatusUpdate{CallID: "CA1", Status: Status("transferring"), CarrierStatus: "transferring", At: t0})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, res.Status)

	s, _ := store.Get(ctx, "CA1")
	assert.Equal(t, StatusInProgress, s.Status)
	assert.Equal(t, "transferring", s.CarrierStatus)
}

func TestMemoryStore_NonBillableKeepsDurationAndCostUnset(t *testing.T) {
	store, repo := newMemory(t)
	ctx := context.Background()
	_, _, err := store.UpsertOnInitiation(ctx, newSession("CA1", false))
	require.NoError(t, err)

	res, err := store.ApplyStatus(ctx, completed("CA1", 30))
	require.NoError(t, err)
	assert.False(t, res.Settled)
	assert.True(t, res.Advanced)
	assert.Equal(t, 0, res.MinutesCharged)

	s, _ := store.Get(ctx, "CA1")
	assert.Equal(t, StatusCompleted, s.Status)
	require.NotNil(t, s.EndedAt)
	assert.Equal(t, t0.Add(time.Minute), *s.EndedAt)
	assert.Nil(t, s.DurationSeconds)
	assert.Nil(t, s.CostAmount)
	tn, _ := repo.Get("t1")
	assert.Equal(t, 0, tn.TrialMinutesUsed)
}

func TestMemoryStore_TerminalWithoutDurationSettlesLater(t *testing.T) {
	store, _ := newMemory(t)
	ctx := context.Background()
	_, _, err := store.UpsertOnInitiation(ctx, newSession("CA1", true))
	require.NoError(t, err)

	res, err := store.ApplyStatus(ctx, StatusUpdate{CallID: "CA1", Status: StatusCompleted, CarrierStatus: "completed", At: t0})
	require.NoError(t, err)
	assert.False(t, res.Settled)

	res, err = store.ApplyStatus(ctx, completed("CA1", 61))
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Equal(t, 2, res.MinutesCharged)
}

func TestMemoryStore_UnknownSession(t *testing.T) {
	store, _ := newMemory(t)
	_, err := store.ApplyStatus(context.Background(), completed("nope", 10))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStore_Unavailable(t *testing.T) {
	store, _ := newMemory(t)
	store.FailWith = errors.New("disk on fire")
	_, _, err := store.UpsertOnInitiation(context.Background(), newSession("CA1", true))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestMemoryStore_ListFilters(t *testing.T) {
	store, _ := newMemory(t)
	ctx := context.Background()
	for i, id := range []string{"CA1", "CA2", "CA3"} {
		n := newSession(id, true)
		n.StartedAt = t0.Add(time.Duration(i) * time.Hour)
		_, _, err := store.UpsertOnInitiation(ctx, n)
		require.NoError(t, err)
	}
	_, err := store.ApplyStatus(ctx, completed("CA2", 10))
	require.NoError(t, err)

	all, err := store.List(ctx, ListFilter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "CA3", all[0].CallID)

	done, err := store.List(ctx, ListFilter{TenantID: "t1", Status: StatusCompleted})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "CA2", done[0].CallID)

	from := t0.Add(30 * time.Minute)
	later, err := store.List(ctx, ListFilter{TenantID: "t1", From: &from, Limit: 1})
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, "CA3", later[0].CallID)
}

// sqlLedger satisfies usage.TxLedger over the memory repo and counts increments.
type sqlLedger struct {
	repo  *tenants.MemoryRepo
	calls int
}

func (l *sqlLedger) IncrementMinutes(ctx context.Context, tenantID string, minutes int) (usage.Usage, error) {
	l.calls++
	return l.repo.IncrementMinutes(ctx, tenantID, minutes)
}

func (l *sqlLedger) IncrementMinutesTx(ctx context.Context, _ *sql.Tx, tenantID string, minutes int) (usage.Usage, error) {
	return l.IncrementMinutes(ctx, tenantID, minutes)
}

func sessionRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"call_id", "tenant_id", "caller_number", "called_number", "direction",
		"status", "carrier_status", "billable", "started_at", "ended_at", "duration_seconds",
		"cost_amount", "cost_currency", "metadata", "created_at", "updated_at",
	})
}

func TestPostgresStore_UpsertConflictReturnsExisting(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(insertSessionSQL)).
		WillReturnRows(sessionRow())
	mock.ExpectQuery(regexp.QuoteMeta(getSessionSQL)).
		WithArgs("CA1").
		WillReturnRows(sessionRow().AddRow(
			"CA1", "t1", "+15559999", "+15551111", "inbound",
			"in_progress", "in-progress", true, t0, nil, nil,
			nil, nil, []byte(`{"initial_status":"ringing"}`), t0, t0,
		))

	s, created, err := NewPostgresStore(db, nil).UpsertOnInitiation(context.Background(), newSession("CA1", true))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, StatusInProgress, s.Status)
	assert.Equal(t, "ringing", s.Metadata["initial_status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyCompletedSettlesAndCharges(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := tenants.NewMemoryRepo(tenants.Tenant{ID: "t1"})
	ledger := &sqlLedger{repo: repo}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockSessionSQL)).
		WithArgs("CA1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "billable", "status"}).AddRow("t1", true, "in_progress"))
	mock.ExpectExec(regexp.QuoteMeta(advanceStatusSQL)).
		WithArgs("CA1", "completed", "completed", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(settleSessionSQL)).
		WithArgs("CA1", 47, sqlmock.AnyArg(), "2.00", "USD", "completed").
		WillReturnRows(sqlmock.NewRows([]string{"billable"}).AddRow(true))
	mock.ExpectCommit()

	res, err := NewPostgresStore(db, ledger).ApplyStatus(context.Background(), completed("CA1", 47))
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Equal(t, 1, res.MinutesCharged)
	assert.Equal(t, 1, ledger.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplayedTerminalDoesNotChargeAgain(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := &sqlLedger{repo: tenants.NewMemoryRepo(tenants.Tenant{ID: "t1"})}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockSessionSQL)).
		WithArgs("CA1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "billable", "status"}).AddRow("t1", true, "completed"))
	mock.ExpectQuery(regexp.QuoteMeta(settleSessionSQL)).
		WithArgs("CA1", 999, sqlmock.AnyArg(), "2.00", "USD", "completed").
		WillReturnRows(sqlmock.NewRows([]string{"billable"}))
	mock.ExpectCommit()

	res, err := NewPostgresStore(db, ledger).ApplyStatus(context.Background(), completed("CA1", 999))
	require.NoError(t, err)
	assert.False(t, res.Settled)
	assert.False(t, res.Advanced)
	assert.Equal(t, 0, ledger.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyUnknownSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockSessionSQL)).
		WithArgs("CA404").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "billable", "status"}))
	mock.ExpectRollback()

	_, err = NewPostgresStore(db, nil).ApplyStatus(context.Background(), completed("CA404", 5))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertLeavesRowTimesToDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(insertSessionSQL)).
		WithArgs("CA1", "t1", "+15559999", "+15551111", "inbound", "ringing", "ringing", true, sqlmock.AnyArg(), "{}").
		WillReturnRows(sessionRow().AddRow(
			"CA1", "t1", "+15559999", "+15551111", "inbound",
			"ringing", "ringing", true, t0, nil, nil,
			nil, nil, []byte(`{}`), t0.Add(time.Hour), t0.Add(time.Hour),
		))

	s, created, err := NewPostgresStore(db, nil).UpsertOnInitiation(context.Background(), newSession("CA1", true))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, t0, s.StartedAt)
	assert.Equal(t, t0.Add(time.Hour), s.CreatedAt)
	assert.Contains(t, insertSessionSQL, "now(), now()")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BlockedSessionEndsWithoutSettling(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := &sqlLedger{repo: tenants.NewMemoryRepo(tenants.Tenant{ID: "t1"})}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockSessionSQL)).
		WithArgs("CA1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "billable", "status"}).AddRow("t1", false, "ringing"))
	mock.ExpectExec(regexp.QuoteMeta(advanceStatusSQL)).
		WithArgs("CA1", "completed", "completed", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := NewPostgresStore(db, ledger).ApplyStatus(context.Background(), completed("CA1", 12))
	require.NoError(t, err)
	assert.True(t, res.Advanced)
	assert.False(t, res.Settled)
	assert.Equal(t, 0, ledger.calls)
	assert.Contains(t, settleSessionSQL, "AND billable AND duration_seconds IS NULL")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BackendFailureIsUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(getSessionSQL)).
		WithArgs("CA1").
		WillReturnError(&net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")})

	_, err = NewPostgresStore(db, nil).Get(context.Background(), "CA1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestPostgresStore_BeginFailureIsUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(&pgconn.PgError{Code: "57P01", Message: "terminating connection due to administrator command"})

	_, err = NewPostgresStore(db, nil).ApplyStatus(context.Background(), completed("CA1", 5))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestPostgresStore_StatementErrorIsNotUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	invalid := &pgconn.PgError{Code: "22P02", Message: "invalid input syntax"}
	mock.ExpectQuery(regexp.QuoteMeta(getSessionSQL)).
		WithArgs("CA1").
		WillReturnError(invalid)

	_, err = NewPostgresStore(db, nil).Get(context.Background(), "CA1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, invalid)
}
