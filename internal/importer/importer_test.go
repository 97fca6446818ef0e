package importer_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-checkin/internal/cache"
	"ms-checkin/internal/checkin/db"
	"ms-checkin/internal/importer"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
	"ms-checkin/internal/upstream"
)

type fakeUpstream struct {
	mu       sync.Mutex
	total    int
	failAt   int
	authErr  error
	zeroType bool
	onPage   func(page int)
	fetched  []int
}

func allowed(n int) *int { return &n }

func (f *fakeUpstream) CheckCredentials(ctx context.Context, cred upstream.Credentials) error {
	return f.authErr
}

func (f *fakeUpstream) GetEventEssentials(ctx context.Context, cred upstream.Credentials) (*upstream.EventEssentials, error) {
	return &upstream.EventEssentials{
		Name:         "Summer Fest",
		TotalTickets: f.total,
		Capacity:     500,
		TicketTypes: []upstream.TicketType{
			{ID: 1, Label: "General", AllowedCheckins: allowed(1)},
			{ID: 2, Label: "Weekend Pass", AllowedCheckins: allowed(3), AllowReentry: true},
			{ID: 3, Label: "Press", AllowedCheckins: allowed(0)},
		},
	}, nil
}

func (f *fakeUpstream) GetTicketsInfo(ctx context.Context, cred upstream.Credentials, perPage, page int) (*upstream.TicketPage, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, page)
	f.mu.Unlock()

	if f.failAt == page {
		return nil, fmt.Errorf("%w: status 503", upstream.ErrServer)
	}
	if f.onPage != nil {
		f.onPage(page)
	}

	pages := (f.total + perPage - 1) / perPage
	out := &upstream.TicketPage{Page: page, TotalPages: pages, Total: f.total}
	for i := (page - 1) * perPage; i < page*perPage && i < f.total; i++ {
		typeID := int64(1)
		if i%2 == 1 {
			typeID = 2
		}
		if f.zeroType {
			typeID = 3
		}
		out.Tickets = append(out.Tickets, upstream.TicketInfo{
			Code:         fmt.Sprintf("TCK-%04d", i),
			Checksum:     fmt.Sprintf("sum-%04d", i),
			HolderName:   fmt.Sprintf("Guest %d", i),
			TicketTypeID: typeID,
		})
	}
	return out, nil
}

func (f *fakeUpstream) GetTicketDetailedStatus(ctx context.Context, cred upstream.Credentials, checksum string) (*upstream.TicketStatus, error) {
	if checksum != "sum-0000" {
		return nil, upstream.ErrNotFound
	}
	return &upstream.TicketStatus{Checksum: checksum, Status: "valid", CheckedIn: true}, nil
}

func (f *fakeUpstream) GetEventOccupancy(ctx context.Context, cred upstream.Credentials) (*upstream.Occupancy, error) {
	return &upstream.Occupancy{Inside: 7, Capacity: 500}, nil
}

func (f *fakeUpstream) pagesFetched() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.fetched...)
}

func setup(t *testing.T, up upstream.Client) (*importer.Syncer, *db.DB, *models.Event) {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	store := db.New(bunDB, time.Second)
	ctx := context.Background()
	require.NoError(t, store.CreateSchema(ctx))

	ev := &models.Event{
		Name:    "placeholder",
		SiteURL: "https://tickets.example.com",
		APIKey:  "secret",
		EndDate: time.Now().Add(48 * time.Hour),
	}
	require.NoError(t, store.UpsertEvent(ctx, ev))

	cc := cache.NewCoordinator(cache.NoopBackend{}, logger.Discard())
	return importer.NewSyncer(store, up, cc, logger.Discard()), store, ev
}

func countAttendees(t *testing.T, store *db.DB, eventID int64) int {
	t.Helper()
	list, err := store.ListAttendees(context.Background(), eventID)
	require.NoError(t, err)
	return len(list)
}

func TestRunImportsAllPages(t *testing.T) {
	up := &fakeUpstream{total: 250}
	s, store, ev := setup(t, up)
	ctx := context.Background()

	report, err := s.Run(ctx, ev.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Pages)
	assert.Equal(t, 250, report.Tickets)
	assert.Equal(t, 2, report.TicketTypes)
	assert.False(t, report.Cancelled)
	assert.Equal(t, []int{1, 2, 3}, up.pagesFetched())
	assert.Equal(t, 250, countAttendees(t, store, ev.ID))

	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusActive, got.Status)
	assert.Equal(t, "Summer Fest", got.Name)
	assert.Equal(t, 500, got.Capacity)
	assert.NotNil(t, got.LastSyncedAt)

	require.NotNil(t, report.UpstreamInside)
	assert.Equal(t, 7, *report.UpstreamInside)

	configs, err := store.ListCheckInConfigs(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, configs, 3)
	assert.Equal(t, 3, configs[1].AllowedCheckins)
	assert.True(t, configs[1].AllowReentry)
	assert.Equal(t, 0, configs[2].AllowedCheckins, "zero allowance is kept")

	pass, err := store.GetAttendee(ctx, ev.ID, "TCK-0001")
	require.NoError(t, err)
	assert.Equal(t, 3, pass.AllowedCheckins, "allowance falls back to the ticket type")
	assert.Equal(t, 3, pass.CheckinsRemaining)
}

func TestRunRefusesArchivedEvent(t *testing.T) {
	up := &fakeUpstream{total: 10}
	s, store, ev := setup(t, up)
	ctx := context.Background()
	require.NoError(t, store.UpdateEventStatus(ctx, ev.ID, models.EventStatusArchived))

	_, err := s.Run(ctx, ev.ID, nil)
	assert.ErrorIs(t, err, importer.ErrEventArchived)
	assert.Empty(t, up.pagesFetched())
}

func TestArchivalDuringRunIsTerminal(t *testing.T) {
	up := &fakeUpstream{total: 300}
	s, store, ev := setup(t, up)
	ctx := context.Background()
	up.onPage = func(page int) {
		if page == 2 {
			require.NoError(t, store.UpdateEventStatus(ctx, ev.ID, models.EventStatusArchived))
		}
	}

	report, err := s.Run(ctx, ev.ID, nil)
	assert.ErrorIs(t, err, importer.ErrEventArchived)
	assert.Equal(t, 1, report.Pages)
	assert.Equal(t, []int{1, 2}, up.pagesFetched())
	assert.Equal(t, 100, countAttendees(t, store, ev.ID))

	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusArchived, got.Status)
}

func TestBadCredentialsFailBeforeAnyWrite(t *testing.T) {
	up := &fakeUpstream{total: 10, authErr: fmt.Errorf("%w: status 401", upstream.ErrAuth)}
	s, store, ev := setup(t, up)
	ctx := context.Background()

	_, err := s.Run(ctx, ev.ID, nil)
	assert.ErrorIs(t, err, upstream.ErrAuth)
	assert.Empty(t, up.pagesFetched())

	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusActive, got.Status)
	assert.Equal(t, "placeholder", got.Name)
}

func TestZeroAllowanceFromTicketTypeIsKept(t *testing.T) {
	up := &fakeUpstream{total: 2, zeroType: true}
	s, store, ev := setup(t, up)
	ctx := context.Background()

	_, err := s.Run(ctx, ev.ID, nil)
	require.NoError(t, err)

	press, err := store.GetAttendee(ctx, ev.ID, "TCK-0000")
	require.NoError(t, err)
	assert.Equal(t, 0, press.AllowedCheckins)
	assert.Equal(t, 0, press.CheckinsRemaining)
}

func TestTicketStatusAsksUpstream(t *testing.T) {
	up := &fakeUpstream{}
	s, _, ev := setup(t, up)
	ctx := context.Background()

	st, err := s.TicketStatus(ctx, ev.ID, "sum-0000")
	require.NoError(t, err)
	assert.True(t, st.CheckedIn)

	_, err = s.TicketStatus(ctx, ev.ID, "sum-9999")
	assert.ErrorIs(t, err, upstream.ErrNotFound)
}

func TestResyncKeepsCheckInState(t *testing.T) {
	up := &fakeUpstream{total: 5}
	s, store, ev := setup(t, up)
	ctx := context.Background()

	_, err := s.Run(ctx, ev.ID, nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	err = store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		a, err := store.LockAttendee(ctx, tx, ev.ID, "TCK-0000")
		if err != nil {
			return err
		}
		a.CheckinsRemaining = 0
		a.CheckedInAt = &now
		a.IsCurrentlyInside = true
		return store.UpdateAttendee(ctx, tx, a, "checkins_remaining", "checked_in_at", "is_currently_inside")
	})
	require.NoError(t, err)

	_, err = s.Run(ctx, ev.ID, nil)
	require.NoError(t, err)

	a, err := store.GetAttendee(ctx, ev.ID, "TCK-0000")
	require.NoError(t, err)
	assert.Equal(t, 0, a.CheckinsRemaining)
	assert.True(t, a.IsCurrentlyInside)
	assert.NotNil(t, a.CheckedInAt)
}

func TestResyncKeepsEntranceLimits(t *testing.T) {
	up := &fakeUpstream{total: 2}
	s, store, ev := setup(t, up)
	ctx := context.Background()

	_, err := s.Run(ctx, ev.ID, nil)
	require.NoError(t, err)

	configs, err := store.ListCheckInConfigs(ctx, ev.ID)
	require.NoError(t, err)
	configs[0].EntranceLimits = map[string]int{"North-Gate": 50}
	require.NoError(t, store.UpsertCheckInConfigs(ctx, configs))

	_, err = s.Run(ctx, ev.ID, nil)
	require.NoError(t, err)

	configs, err = store.ListCheckInConfigs(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, configs[0].EntranceLimits["North-Gate"])
}

func TestCancelStopsBetweenPages(t *testing.T) {
	ctl := importer.NewControl()
	up := &fakeUpstream{total: 300}
	up.onPage = func(page int) {
		if page == 1 {
			ctl.Cancel()
		}
	}
	s, store, ev := setup(t, up)
	ctx := context.Background()

	report, err := s.Run(ctx, ev.ID, ctl)
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Equal(t, 1, report.Pages)
	assert.Equal(t, []int{1}, up.pagesFetched())
	assert.Equal(t, 100, countAttendees(t, store, ev.ID), "committed page stays")

	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusActive, got.Status)
}

func TestPauseHoldsUntilResume(t *testing.T) {
	ctl := importer.NewControl()
	up := &fakeUpstream{total: 200}
	up.onPage = func(page int) {
		if page == 1 {
			ctl.Pause()
		}
	}
	s, store, ev := setup(t, up)

	done := make(chan importer.Report, 1)
	go func() {
		report, err := s.Run(context.Background(), ev.ID, ctl)
		assert.NoError(t, err)
		done <- report
	}()

	require.Eventually(t, func() bool { return ctl.State() == importer.StatePaused }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []int{1}, up.pagesFetched())

	ctl.Resume()
	select {
	case report := <-done:
		assert.Equal(t, 2, report.Pages)
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not finish after resume")
	}
	assert.Equal(t, 200, countAttendees(t, store, ev.ID))
}

func TestUpstreamFailureKeepsCommittedPages(t *testing.T) {
	up := &fakeUpstream{total: 250, failAt: 2}
	s, store, ev := setup(t, up)
	ctx := context.Background()

	report, err := s.Run(ctx, ev.ID, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream.ErrServer)
	assert.True(t, upstream.IsUnreachable(err))
	assert.Equal(t, 1, report.Pages)
	assert.Equal(t, 100, countAttendees(t, store, ev.ID))

	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusActive, got.Status)
}

func TestControlWaitHonoursContext(t *testing.T) {
	ctl := importer.NewControl()
	require.NoError(t, ctl.Wait(context.Background()))

	ctl.Pause()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ctl.Wait(ctx), context.DeadlineExceeded)

	ctl.Resume()
	ctl.Resume()
	assert.Equal(t, importer.StateRunning, ctl.State())
	require.NoError(t, ctl.Wait(context.Background()))

	ctl.Cancel()
	ctl.Cancel()
	assert.ErrorIs(t, ctl.Wait(context.Background()), importer.ErrCancelled)
}

func TestManagerRunsOneSyncPerEvent(t *testing.T) {
	release := make(chan struct{})
	up := &fakeUpstream{total: 150}
	up.onPage = func(page int) {
		if page == 1 {
			<-release
		}
	}
	s, store, ev := setup(t, up)
	m := importer.NewManager(s, logger.Discard())

	require.NoError(t, m.Start(ev.ID))
	assert.ErrorIs(t, m.Start(ev.ID), importer.ErrSyncRunning)

	st, ok := m.Status(ev.ID)
	require.True(t, ok)
	assert.Equal(t, importer.StateRunning, st.State)

	close(release)
	m.Wait(ev.ID)

	st, ok = m.Status(ev.ID)
	require.True(t, ok)
	assert.Equal(t, "finished", st.State)
	require.NotNil(t, st.Report)
	assert.Equal(t, 150, st.Report.Tickets)
	assert.Equal(t, 150, countAttendees(t, store, ev.ID))
	assert.ErrorIs(t, m.Pause(ev.ID), importer.ErrSyncNotRunning)
}
