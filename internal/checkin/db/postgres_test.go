package db_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-checkin/internal/checkin/db"
	"ms-checkin/internal/models"
)

const pgLockWait = 300 * time.Millisecond

// setupPostgres starts a throwaway Postgres so row locks are exercised on
// the engine that enforces them in production.
func setupPostgres(t *testing.T) (*db.DB, *bun.DB) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping Postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "checkin",
				"POSTGRES_PASSWORD": "checkin",
				"POSTGRES_DB":       "checkin",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { pg.Terminate(ctx) })

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://checkin:checkin@%s:%s/checkin?sslmode=disable", host, port.Port())
	sqldb, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { bunDB.Close() })

	store := db.New(bunDB, pgLockWait)
	require.NoError(t, store.CreateSchema(ctx))
	return store, bunDB
}

func TestPostgresRowLockTimesOutOnlyForTheSameTicket(t *testing.T) {
	store, bunDB := setupPostgres(t)
	ctx := context.Background()

	ev := &models.Event{Name: "Night Market", EndDate: time.Now().Add(24 * time.Hour), Capacity: 50}
	require.NoError(t, store.UpsertEvent(ctx, ev))
	for _, code := range []string{"PG-1", "PG-2"} {
		require.NoError(t, store.InsertAttendee(ctx, &models.Attendee{
			EventID:           ev.ID,
			TicketCode:        code,
			AllowedCheckins:   1,
			CheckinsRemaining: 1,
		}))
	}

	holder, err := bunDB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer holder.Rollback()
	_, err = store.LockAttendee(ctx, holder, ev.ID, "PG-1")
	require.NoError(t, err)

	started := time.Now()
	err = store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		_, err := store.LockAttendee(ctx, tx, ev.ID, "PG-1")
		return err
	})
	assert.ErrorIs(t, err, db.ErrLockTimeout)
	assert.GreaterOrEqual(t, time.Since(started), pgLockWait)

	err = store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		a, err := store.LockAttendee(ctx, tx, ev.ID, "PG-2")
		if err != nil {
			return err
		}
		assert.Equal(t, "PG-2", a.TicketCode)
		return nil
	})
	assert.NoError(t, err, "other tickets are not blocked")

	require.NoError(t, holder.Rollback())
	err = store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		_, err := store.LockAttendee(ctx, tx, ev.ID, "PG-1")
		return err
	})
	assert.NoError(t, err, "lock is free once the holder ends")
}

func TestPostgresStatusChangeRespectsArchival(t *testing.T) {
	store, _ := setupPostgres(t)
	ctx := context.Background()

	ev := &models.Event{Name: "Closing Night", EndDate: time.Now().Add(24 * time.Hour)}
	require.NoError(t, store.UpsertEvent(ctx, ev))
	require.NoError(t, store.UpdateEventStatus(ctx, ev.ID, models.EventStatusArchived))

	err := store.UpdateEventStatus(ctx, ev.ID, models.EventStatusActive, models.EventStatusSyncing)
	assert.ErrorIs(t, err, db.ErrStatusConflict)

	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusArchived, got.Status)
}
