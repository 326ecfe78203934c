package services

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/blindrelay/internal/common"
	"github.com/dmitrijs2005/blindrelay/internal/dbx"
	"github.com/dmitrijs2005/blindrelay/internal/logging"
	"github.com/dmitrijs2005/blindrelay/internal/server/config"
	"github.com/dmitrijs2005/blindrelay/internal/server/models"
	"github.com/dmitrijs2005/blindrelay/internal/server/repositories/abusereports"
	"github.com/dmitrijs2005/blindrelay/internal/server/repositories/messages"
	"github.com/dmitrijs2005/blindrelay/internal/server/repositories/users"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	return cfg
}

func newMockClock(at time.Time) *clock.Mock {
	c := clock.NewMock()
	c.Set(at)
	return c
}

// --- users ---

type fakeUsersRepo struct {
	mu    sync.Mutex
	rows  map[string]*models.Identity
	taken map[string]bool

	createCalls []string
	// raceWinner is inserted into rows the first time Create is called,
	// simulating a concurrent first authentication.
	raceWinner  *models.Identity

	createErr error
	getErr    error
	touchErr  error
	lockErr   error
	setErr    error
	deleteErr error

	touched []string
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{rows: map[string]*models.Identity{}, taken: map[string]bool{}}
}

func (f *fakeUsersRepo) Create(_ context.Context, i *models.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, i.ShortCode)
	if f.createErr != nil {
		return f.createErr
	}
	if f.raceWinner != nil {
		w := *f.raceWinner
		f.rows[w.AddressHash] = &w
		f.raceWinner = nil
	}
	if _, ok := f.rows[i.AddressHash]; ok {
		return common.ErrAlreadyExists
	}
	if f.taken[i.ShortCode] {
		return common.ErrShortCodeTaken
	}
	for _, r := range f.rows {
		if r.ShortCode == i.ShortCode {
			return common.ErrShortCodeTaken
		}
	}
	cp := *i
	f.rows[i.AddressHash] = &cp
	return nil
}

func (f *fakeUsersRepo) GetByAddress(_ context.Context, address string) (*models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	r, ok := f.rows[address]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeUsersRepo) GetByShortCode(_ context.Context, code string) (*models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.ShortCode == code {
			cp := *r
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) TouchLastSeen(_ context.Context, address string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, address)
	if f.touchErr != nil {
		return f.touchErr
	}
	if r, ok := f.rows[address]; ok {
		r.LastSeen = at
	}
	return nil
}

func (f *fakeUsersRepo) LockAbuseScore(_ context.Context, address string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockErr != nil {
		return 0, f.lockErr
	}
	r, ok := f.rows[address]
	if !ok {
		return 0, common.ErrorNotFound
	}
	return r.AbuseScore, nil
}

func (f *fakeUsersRepo) SetAbuseScore(_ context.Context, address string, score int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	if r, ok := f.rows[address]; ok {
		r.AbuseScore = score
	}
	return nil
}

func (f *fakeUsersRepo) Delete(_ context.Context, address string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	_, ok := f.rows[address]
	delete(f.rows, address)
	return ok, nil
}

// --- messages ---

type fakeMessagesRepo struct {
	mu      sync.Mutex
	rows    []*models.Message
	nextID  int64
	listOut []*models.Message

	createErr error
	listErr   error
	deleteErr error

	lastLimit   int
	expiredAt   time.Time
	deletedPair [2]string
	deletedAll  string
}

func (f *fakeMessagesRepo) Create(_ context.Context, m *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	m.ID = f.nextID
	cp := *m
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeMessagesRepo) ListForAddress(_ context.Context, _ string, limit int) ([]*models.Message, error) {
	f.lastLimit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listOut, nil
}

func (f *fakeMessagesRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.expiredAt = now
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return 3, nil
}

func (f *fakeMessagesRepo) DeleteConversation(_ context.Context, a, b string) (int64, error) {
	f.deletedPair = [2]string{a, b}
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return 2, nil
}

func (f *fakeMessagesRepo) DeleteForAddress(_ context.Context, address string) (int64, error) {
	f.deletedAll = address
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return 5, nil
}

// --- abuse reports ---

type fakeReportsRepo struct {
	created   []*models.AbuseReport
	createErr error
}

func (f *fakeReportsRepo) Create(_ context.Context, r *models.AbuseReport) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, r)
	return nil
}

// --- manager ---

type fakeRepoManager struct {
	u *fakeUsersRepo
	m *fakeMessagesRepo
	a *fakeReportsRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{u: newFakeUsersRepo(), m: &fakeMessagesRepo{}, a: &fakeReportsRepo{}}
}

func (f *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error  { return nil }
func (f *fakeRepoManager) Users(dbx.DBTX) users.Repository               { return f.u }
func (f *fakeRepoManager) Messages(dbx.DBTX) messages.Repository         { return f.m }
func (f *fakeRepoManager) AbuseReports(dbx.DBTX) abusereports.Repository { return f.a }

var nopLogger = logging.Nop()
