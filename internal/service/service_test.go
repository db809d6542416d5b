package service

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/community-library/internal/events"
	"github.com/sakif/community-library/internal/mirror"
	"github.com/sakif/community-library/internal/model"
	"github.com/sakif/community-library/internal/repository"
	"github.com/sakif/community-library/internal/repository/badger"
	"github.com/sakif/community-library/internal/repository/sqlite"
)

// testClock is a settable clock shared by every service in a fixture.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Topic
	}
	return out
}

type fixture struct {
	*Services
	store  repository.Store
	mirror *mirror.Mirror
	clock  *testClock
	events *recorder
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newFixture(t *testing.T, store repository.Store) *fixture {
	t.Helper()
	t.Cleanup(func() { store.Close() })

	logger := testLogger()
	clock := &testClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	rec := &recorder{}
	m := mirror.New(store, logger)

	svc := New(Backend{
		Store:  store,
		Mirror: m,
		Events: rec,
		Logger: logger,
		Now:    clock.Now,
	}, nil, nil)

	return &fixture{Services: svc, store: store, mirror: m, clock: clock, events: rec}
}

func newSQLiteFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	return newFixture(t, store)
}

func newBadgerFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := badger.New("")
	require.NoError(t, err)
	return newFixture(t, store)
}

func (f *fixture) signUp(t *testing.T, uid string) *model.User {
	t.Helper()
	u, err := f.Users.SignUp(context.Background(), SignUpInput{
		UID:        uid,
		Email:      uid + "@example.org",
		FirstName:  "First-" + uid,
		LastName:   "Last",
		Phone:      "555-0100",
		FamilySize: 3,
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) addBook(t *testing.T, title string, copies int) (*model.Book, []model.Copy) {
	t.Helper()
	b, cs, err := f.Books.AddBook(context.Background(), BookInput{
		Title:    title,
		Author:   "Ursula K. Le Guin",
		Category: "Fiction",
	}, copies)
	require.NoError(t, err)
	return b, cs
}

// storedUser reads the user straight from the store, bypassing the mirror.
func (f *fixture) storedUser(t *testing.T, uid string) model.User {
	t.Helper()
	var u model.User
	err := f.store.View(context.Background(), func(tx repository.Tx) error {
		_, err := tx.Get(repository.Users, uid, &u)
		return err
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) storedCopy(t *testing.T, copyID int64) model.Copy {
	t.Helper()
	var c model.Copy
	err := f.store.View(context.Background(), func(tx repository.Tx) error {
		_, err := tx.Get(repository.Copies, model.CopyKey(copyID), &c)
		return err
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) storedBook(t *testing.T, id string) model.Book {
	t.Helper()
	var b model.Book
	err := f.store.View(context.Background(), func(tx repository.Tx) error {
		_, err := tx.Get(repository.Books, id, &b)
		return err
	})
	require.NoError(t, err)
	return b
}

// requireConsistent asserts the integrity check finds no violation.
func (f *fixture) requireConsistent(t *testing.T) {
	t.Helper()
	report, err := f.Integrity.Verify(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Violations)
}
