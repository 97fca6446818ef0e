package db_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-checkin/internal/checkin/db"
	"ms-checkin/internal/models"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	store := db.New(bunDB, time.Second)
	require.NoError(t, store.CreateSchema(context.Background()))
	return store
}

func seedAttendee(t *testing.T, store *db.DB, eventID int64, code string) *models.Attendee {
	t.Helper()
	a := &models.Attendee{
		EventID:           eventID,
		TicketCode:        code,
		HolderName:        "Ada Lovelace",
		TicketType:        "General",
		TicketTypeID:      1,
		AllowedCheckins:   1,
		CheckinsRemaining: 1,
	}
	require.NoError(t, store.InsertAttendee(context.Background(), a))
	return a
}

func TestLockAttendeeMissingReturnsNotFound(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	err := store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		_, err := store.LockAttendee(ctx, tx, 1, "NOPE")
		return err
	})
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestUpdateAttendeeInsideTransaction(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	seedAttendee(t, store, 1, "T-100")

	now := time.Date(2026, 7, 4, 20, 15, 0, 0, time.UTC)
	err := store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		a, err := store.LockAttendee(ctx, tx, 1, "T-100")
		if err != nil {
			return err
		}
		a.CheckinsRemaining = 0
		a.CheckedInAt = &now
		a.IsCurrentlyInside = true
		return store.UpdateAttendee(ctx, tx, a, "checkins_remaining", "checked_in_at", "is_currently_inside")
	})
	require.NoError(t, err)

	got, err := store.GetAttendee(ctx, 1, "T-100")
	require.NoError(t, err)
	assert.Equal(t, 0, got.CheckinsRemaining)
	assert.True(t, got.IsCurrentlyInside)
	require.NotNil(t, got.CheckedInAt)
	assert.True(t, now.Equal(*got.CheckedInAt))
}

func TestRolledBackTransactionLeavesRowUntouched(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	seedAttendee(t, store, 1, "T-200")

	_ = store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		a, err := store.LockAttendee(ctx, tx, 1, "T-200")
		require.NoError(t, err)
		a.CheckinsRemaining = 0
		require.NoError(t, store.UpdateAttendee(ctx, tx, a, "checkins_remaining"))
		return assert.AnError
	})

	got, err := store.GetAttendee(ctx, 1, "T-200")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CheckinsRemaining)
}

func TestUpsertAttendeesKeepsCheckinState(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	checked := time.Now().UTC()
	a := seedAttendee(t, store, 2, "U-1")
	a.CheckedInAt = &checked
	a.CheckinsRemaining = 0
	require.NoError(t, store.UpdateAttendee(ctx, store.Bun, a, "checked_in_at", "checkins_remaining"))

	_, err := store.UpsertAttendees(ctx, []models.Attendee{
		{EventID: 2, TicketCode: "U-1", HolderName: "Grace Hopper", TicketType: "VIP", TicketTypeID: 2, AllowedCheckins: 1},
		{EventID: 2, TicketCode: "U-2", HolderName: "Alan Turing", TicketType: "General", TicketTypeID: 1, AllowedCheckins: 3},
		{EventID: 2, TicketCode: "U-3", HolderName: "Ada Lovelace", TicketType: "Press", TicketTypeID: 3, AllowedCheckins: 0},
		{EventID: 2, TicketCode: "U-4", HolderName: "Edsger Dijkstra", TicketType: "General", TicketTypeID: 1, AllowedCheckins: -2},
	})
	require.NoError(t, err)

	updated, err := store.GetAttendee(ctx, 2, "U-1")
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", updated.HolderName)
	assert.Equal(t, "VIP", updated.TicketType)
	assert.Equal(t, 0, updated.CheckinsRemaining)
	assert.NotNil(t, updated.CheckedInAt)

	inserted, err := store.GetAttendee(ctx, 2, "U-2")
	require.NoError(t, err)
	assert.Equal(t, 3, inserted.CheckinsRemaining)

	press, err := store.GetAttendee(ctx, 2, "U-3")
	require.NoError(t, err)
	assert.Equal(t, 0, press.AllowedCheckins, "zero allowance is valid")
	assert.Equal(t, 0, press.CheckinsRemaining)

	negative, err := store.GetAttendee(ctx, 2, "U-4")
	require.NoError(t, err)
	assert.Equal(t, 1, negative.AllowedCheckins)

	all, err := store.ListAttendees(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSessionLifecycle(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	a := seedAttendee(t, store, 3, "S-1")

	entered := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return store.InsertSession(ctx, tx, &models.CheckInSession{
			EventID: 3, AttendeeID: a.ID, EntranceIn: "North", EnteredAt: entered,
		})
	}))

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		s, err := store.LockOpenSession(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, "North", s.EntranceIn)
		exited := time.Now().UTC()
		s.ExitedAt = &exited
		s.EntranceOut = "South"
		return store.CloseSession(ctx, tx, s)
	}))

	err := store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		_, err := store.LockOpenSession(ctx, tx, a.ID)
		return err
	})
	assert.ErrorIs(t, err, db.ErrNotFound)

	sessions, err := store.ListSessions(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "South", sessions[0].EntranceOut)
}

func TestAuditTrailAndEntryExitCounts(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	for _, status := range []string{models.AuditSuccess, models.AuditDuplicate, models.AuditManual, models.AuditCheckedOut, models.AuditInvalid} {
		require.NoError(t, store.InsertAudit(ctx, &models.CheckInAudit{
			EventID: 4, TicketCode: "A-1", Entrance: "Main", Status: status,
		}))
	}
	require.NoError(t, store.InsertAudit(ctx, &models.CheckInAudit{EventID: 5, TicketCode: "A-1", Status: models.AuditSuccess}))

	audits, err := store.ListAudits(ctx, 4, "A-1")
	require.NoError(t, err)
	assert.Len(t, audits, 5)
	assert.NotEmpty(t, audits[0].ID)

	entries, exits, err := store.CountEntriesExits(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, entries)
	assert.Equal(t, 1, exits)
}

func TestEventStatsAndOccupancyQueries(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	inside := []string{"E-1", "E-2", "E-3"}
	for i, code := range inside {
		a := seedAttendee(t, store, 6, code)
		a.CheckedInAt = &now
		a.IsCurrentlyInside = true
		a.LastEntrance = "Main"
		if i == 2 {
			a.LastEntrance = "Side"
		}
		require.NoError(t, store.UpdateAttendee(ctx, store.Bun, a, "checked_in_at", "is_currently_inside", "last_entrance"))
	}
	out := seedAttendee(t, store, 6, "E-4")
	out.CheckedInAt = &now
	out.CheckedOutAt = &now
	require.NoError(t, store.UpdateAttendee(ctx, store.Bun, out, "checked_in_at", "checked_out_at"))
	seedAttendee(t, store, 6, "E-5")

	stats, err := store.EventStats(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 4, stats.CheckedIn)
	assert.Equal(t, 1, stats.Remaining)
	assert.Equal(t, 3, stats.Inside)
	assert.Equal(t, 1, stats.CheckedOut)
	assert.Equal(t, 80.0, stats.Percentage)

	n, err := store.CountInside(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	byEntrance, err := store.CountInsideByEntrance(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Main": 2, "Side": 1}, byEntrance)

	atMain, err := store.CountInsideAtEntrance(ctx, store.Bun, 6, "Main")
	require.NoError(t, err)
	assert.Equal(t, 2, atMain)
}

func TestEventsAndConfigs(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	e := &models.Event{Name: "Jazz Night", SiteURL: "https://tickets.example.org", Capacity: 200,
		StartDate: time.Now().UTC(), EndDate: time.Now().UTC().Add(4 * time.Hour)}
	require.NoError(t, store.UpsertEvent(ctx, e))
	require.NotZero(t, e.ID)

	require.NoError(t, store.UpdateEventStatus(ctx, e.ID, models.EventStatusSyncing))
	got, err := store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusSyncing, got.Status)
	assert.ErrorIs(t, store.UpdateEventStatus(ctx, 9999, models.EventStatusActive), db.ErrNotFound)

	require.NoError(t, store.UpdateEventStatus(ctx, e.ID, models.EventStatusArchived))
	err = store.UpdateEventStatus(ctx, e.ID, models.EventStatusActive, models.EventStatusSyncing)
	assert.ErrorIs(t, err, db.ErrStatusConflict)
	got.Name = "Jazz Night (late set)"
	require.NoError(t, store.UpsertEvent(ctx, got))
	got, err = store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusArchived, got.Status, "upsert leaves status alone")
	assert.Equal(t, "Jazz Night (late set)", got.Name)

	_, err = store.GetEvent(ctx, 9999)
	assert.ErrorIs(t, err, db.ErrNotFound)

	require.NoError(t, store.UpsertCheckInConfigs(ctx, []models.CheckInConfig{
		{EventID: e.ID, TicketTypeID: 1, TicketType: "General", AllowedCheckins: 1},
		{EventID: e.ID, TicketTypeID: 2, TicketType: "VIP", AllowedCheckins: 3, AllowReentry: true,
			EntranceLimits: map[string]int{"VIP Door": 50}},
	}))
	require.NoError(t, store.UpsertCheckInConfigs(ctx, []models.CheckInConfig{
		{EventID: e.ID, TicketTypeID: 1, TicketType: "General", AllowedCheckins: 2},
	}))

	configs, err := store.ListCheckInConfigs(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, 2, configs[0].AllowedCheckins)
	assert.Equal(t, 50, configs[1].EntranceLimits["VIP Door"])
}
