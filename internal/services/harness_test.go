package services

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"qooqz/internal/models"
	"qooqz/internal/repositories"
)

// In-memory fakes backing the service tests. They reproduce the guard
// semantics of the SQL layer (mark-used only when unused, atomic
// attempt increments) under a mutex so concurrency tests are honest.

type fakeTokenRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.VerificationToken

	// txMu serializes fake transactions so snapshot/restore in
	// fakeTxRunner never reverts a concurrent committed write.
	txMu sync.Mutex
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{rows: map[int64]*models.VerificationToken{}}
}

func (r *fakeTokenRepo) Insert(_ context.Context, t *models.VerificationToken) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	t.ID = r.nextID
	r.rows[t.ID] = t
	return t.ID, nil
}

func (r *fakeTokenRepo) FindByJTI(_ context.Context, jti string) (*models.VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.rows {
		if t.JTI == jti {
			return t, nil
		}
	}
	return nil, nil
}

func (r *fakeTokenRepo) FindActiveByUser(_ context.Context, userID int, channel string) ([]*models.VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var out []*models.VerificationToken
	for _, t := range r.rows {
		if t.UserID != userID || t.Used || !t.ExpiresAt.After(now) {
			continue
		}
		if channel != "" && t.Channel != channel {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (r *fakeTokenRepo) SupersedeUnused(_ context.Context, userID int, channel string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, t := range r.rows {
		if t.UserID == userID && t.Channel == channel && !t.Used {
			t.Used = true
			t.UsedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *fakeTokenRepo) MarkUsedIfUnused(_ context.Context, _ repositories.Querier, id int64, verifierIP, verifierUA string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[id]
	if !ok || t.Used {
		return 0, nil
	}
	now := time.Now().UTC()
	t.Used = true
	t.UsedAt = &now
	t.VerifierIP = verifierIP
	t.VerifierUserAgent = verifierUA
	return 1, nil
}

func (r *fakeTokenRepo) IncrementAttemptsAndMaybeBlock(_ context.Context, id int64, maxAttempts int) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[id]
	if !ok || t.Used {
		return 0, false, sql.ErrNoRows
	}
	t.Attempts++
	if t.Attempts >= maxAttempts {
		now := time.Now().UTC()
		t.Used = true
		t.UsedAt = &now
		return t.Attempts, true, nil
	}
	return t.Attempts, false, nil
}

func (r *fakeTokenRepo) CountRecentIssues(_ context.Context, userID int, channel string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.rows {
		if t.UserID == userID && t.Channel == channel && !t.IssuedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// snapshot and restore implement the rollback in fakeTxRunner. Restore
// writes the saved values through the existing pointers so rows held by
// tests observe the rollback, and drops rows inserted inside the
// transaction.
func (r *fakeTokenRepo) snapshot() map[int64]models.VerificationToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := make(map[int64]models.VerificationToken, len(r.rows))
	for id, t := range r.rows {
		snap[id] = *t
	}
	return snap
}

func (r *fakeTokenRepo) restore(snap map[int64]models.VerificationToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, saved := range snap {
		if t, ok := r.rows[id]; ok {
			*t = saved
		}
	}
	for id := range r.rows {
		if _, ok := snap[id]; !ok {
			delete(r.rows, id)
		}
	}
}

func (r *fakeTokenRepo) ListByUser(_ context.Context, userID int, _, _ int) ([]*models.VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.VerificationToken
	for _, t := range r.rows {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

type fakeSessionRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{rows: map[int64]*models.Session{}}
}

func (r *fakeSessionRepo) Create(_ context.Context, s *models.Session) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s.ID = r.nextID
	r.rows[s.ID] = s
	return s.ID, nil
}

func (r *fakeSessionRepo) FindActive(_ context.Context, tokenHash string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, s := range r.rows {
		if s.TokenHash == tokenHash && !s.Revoked && s.ExpiresAt.After(now) {
			return s, nil
		}
	}
	return nil, nil
}

func (r *fakeSessionRepo) ExtendExpiry(_ context.Context, id int64, newExpiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.rows[id]; ok && !s.Revoked {
		s.ExpiresAt = newExpiry
	}
	return nil
}

func (r *fakeSessionRepo) Revoke(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.rows[id]; ok {
		s.Revoked = true
	}
	return nil
}

type fakeUserRepo struct {
	mu     sync.Mutex
	nextID int
	rows   map[int]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{rows: map[int]*models.User{}}
}

func (r *fakeUserRepo) add(u *models.User) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == 0 {
		r.nextID++
		u.ID = r.nextID
	} else if u.ID > r.nextID {
		r.nextID = u.ID
	}
	r.rows[u.ID] = u
	return u
}

func (r *fakeUserRepo) FindByID(_ context.Context, id int) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id], nil
}

func (r *fakeUserRepo) FindByPhone(_ context.Context, phone string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.rows {
		if u.Phone == phone {
			return u, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) CreateMinimal(_ context.Context, username, phone string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	u := &models.User{ID: r.nextID, Username: username, Phone: phone, CreatedAt: time.Now().UTC()}
	r.rows[u.ID] = u
	return u, nil
}

func (r *fakeUserRepo) SetActive(_ context.Context, _ repositories.Querier, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.rows[id]; ok {
		u.IsActive = true
	}
	return nil
}

type fakeStoreRepo struct {
	mu   sync.Mutex
	rows []*models.Store
}

func (r *fakeStoreRepo) ActivateAllInactiveForOwner(_ context.Context, _ repositories.Querier, ownerID int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.rows {
		if s.OwnerID == ownerID && !s.IsActive {
			s.IsActive = true
			n++
		}
	}
	return n, nil
}

func (r *fakeStoreRepo) ListByOwner(_ context.Context, ownerID int) ([]*models.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Store
	for _, s := range r.rows {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	return out, nil
}

// fakeTxRunner mirrors the real runner's commit/rollback contract for
// the token rows, the only contended resource: the callback's writes
// are reverted when it returns an error. With a nil repo it degrades to
// running the callback directly.
type fakeTxRunner struct {
	tokens *fakeTokenRepo
}

func (r fakeTxRunner) RunInTx(_ context.Context, fn func(q repositories.Querier) error) error {
	if r.tokens == nil {
		return fn(nil)
	}
	r.tokens.txMu.Lock()
	defer r.tokens.txMu.Unlock()
	snap := r.tokens.snapshot()
	if err := fn(nil); err != nil {
		r.tokens.restore(snap)
		return err
	}
	return nil
}

// plainHasher prefixes instead of hashing and counts comparisons, so
// tests can assert that session checks happen before any compare.
type plainHasher struct {
	mu       sync.Mutex
	compares int
}

func (h *plainHasher) Hash(code string) (string, error) { return "plain:" + code, nil }

func (h *plainHasher) Compare(code, digest string) bool {
	h.mu.Lock()
	h.compares++
	h.mu.Unlock()
	return digest == "plain:"+code
}

func (h *plainHasher) compareCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.compares
}

type sentText struct {
	phone string
	text  string
}

type fakeDelivery struct {
	mu   sync.Mutex
	sent []sentText
	err  error
	done chan struct{}
}

func newFakeDelivery() *fakeDelivery {
	return &fakeDelivery{done: make(chan struct{}, 16)}
}

func (d *fakeDelivery) SendText(phone, text string) error {
	d.mu.Lock()
	d.sent = append(d.sent, sentText{phone: phone, text: text})
	err := d.err
	d.mu.Unlock()
	d.done <- struct{}{}
	return err
}

func (d *fakeDelivery) wait() (sentText, bool) {
	select {
	case <-d.done:
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.sent[len(d.sent)-1], true
	case <-time.After(2 * time.Second):
		return sentText{}, false
	}
}

// errorActivation simulates an activation failure inside the consume
// transaction.
type errorActivation struct{}

var errActivationBoom = errors.New("activation boom")

func (errorActivation) Activate(context.Context, int) error { return errActivationBoom }
func (errorActivation) ActivateTx(context.Context, repositories.Querier, int) error {
	return errActivationBoom
}
func (errorActivation) NotifyActivated(int) {}

func containsCode(text, code string) bool {
	return strings.Contains(text, code)
}
