// Package memory is an in-process implementation of the account
// repositories. Transactions are serialized and applied copy-on-write, so a
// failed transaction leaves no trace.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/domain/accounts"
	"github.com/google/uuid"
)

type state struct {
	users       map[uuid.UUID]accounts.User
	tokens      map[string]auth.TokenRecord
	organizerID int64
}

func newState() *state {
	return &state{
		users:  make(map[uuid.UUID]accounts.User),
		tokens: make(map[string]auth.TokenRecord),
	}
}

func (s *state) clone() *state {
	out := &state{
		users:       make(map[uuid.UUID]accounts.User, len(s.users)),
		tokens:      make(map[string]auth.TokenRecord, len(s.tokens)),
		organizerID: s.organizerID,
	}
	for id, u := range s.users {
		out.users[id] = copyUser(u)
	}
	for tok, rec := range s.tokens {
		out.tokens[tok] = rec
	}
	return out
}

// Store satisfies accounts.Repository.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state
}

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) Users() accounts.CredentialStore { return &view{store: s} }
func (s *Store) Tokens() accounts.TokenLedger    { return &view{store: s} }

func (s *Store) WithTx(ctx context.Context, fn func(context.Context, accounts.Repository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	working := s.st.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &txRepo{st: working}); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = working
	s.mu.Unlock()
	return nil
}

// Records returns a snapshot of every ledger row for user.
func (s *Store) Records(userID uuid.UUID) []auth.TokenRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.TokenRecord
	for _, rec := range s.st.tokens {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out
}

// view runs each call as its own short transaction against committed state.
type view struct {
	store *Store
}

func (v *view) read(fn func(*state) error) error {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return fn(v.store.st)
}

func (v *view) write(ctx context.Context, fn func(*state) error) error {
	return v.store.WithTx(ctx, func(_ context.Context, repo accounts.Repository) error {
		return fn(repo.(*txRepo).st)
	})
}

func (v *view) FindByUsername(_ context.Context, username string) (user *accounts.User, err error) {
	err = v.read(func(st *state) error { user, err = findByUsername(st, username); return err })
	return user, err
}

func (v *view) FindByEmail(_ context.Context, email string) (user *accounts.User, err error) {
	err = v.read(func(st *state) error { user, err = findByEmail(st, email); return err })
	return user, err
}

func (v *view) FindByID(_ context.Context, id uuid.UUID) (user *accounts.User, err error) {
	err = v.read(func(st *state) error { user, err = findByID(st, id); return err })
	return user, err
}

func (v *view) Create(ctx context.Context, user *accounts.User) error {
	return v.write(ctx, func(st *state) error { return create(st, user) })
}

func (v *view) SetRoles(ctx context.Context, userID uuid.UUID, roles []auth.Role) error {
	return v.write(ctx, func(st *state) error { return setRoles(st, userID, roles) })
}

func (v *view) LinkOrganizer(ctx context.Context, userID uuid.UUID, name string) (id int64, err error) {
	err = v.write(ctx, func(st *state) error { id, err = linkOrganizer(st, userID, name); return err })
	return id, err
}

// LockUser only checks existence: WithTx already serializes writers.
func (v *view) LockUser(_ context.Context, userID uuid.UUID) error {
	return v.read(func(st *state) error { _, err := findByID(st, userID); return err })
}

func (v *view) FindByToken(_ context.Context, token string) (rec auth.TokenRecord, err error) {
	err = v.read(func(st *state) error { rec, err = findToken(st, token); return err })
	return rec, err
}

func (v *view) LockByToken(ctx context.Context, token string) (auth.TokenRecord, error) {
	return v.FindByToken(ctx, token)
}

func (v *view) Record(ctx context.Context, record auth.TokenRecord) error {
	return v.write(ctx, func(st *state) error { return recordToken(st, record) })
}

func (v *view) Revoke(ctx context.Context, token string) (won bool, err error) {
	err = v.write(ctx, func(st *state) error { won = revoke(st, token); return nil })
	return won, err
}

func (v *view) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (n int64, err error) {
	err = v.write(ctx, func(st *state) error { n = revokeAll(st, userID); return nil })
	return n, err
}

func (v *view) MarkExpired(ctx context.Context, before time.Time) (n int64, err error) {
	err = v.write(ctx, func(st *state) error { n = markExpired(st, before); return nil })
	return n, err
}

// txRepo operates on the working copy owned by one transaction.
type txRepo struct {
	st *state
}

func (t *txRepo) Users() accounts.CredentialStore { return t }
func (t *txRepo) Tokens() accounts.TokenLedger    { return t }

func (t *txRepo) WithTx(ctx context.Context, fn func(context.Context, accounts.Repository) error) error {
	return fn(ctx, t)
}

func (t *txRepo) FindByUsername(_ context.Context, username string) (*accounts.User, error) {
	return findByUsername(t.st, username)
}

func (t *txRepo) FindByEmail(_ context.Context, email string) (*accounts.User, error) {
	return findByEmail(t.st, email)
}

func (t *txRepo) FindByID(_ context.Context, id uuid.UUID) (*accounts.User, error) {
	return findByID(t.st, id)
}

func (t *txRepo) Create(_ context.Context, user *accounts.User) error {
	return create(t.st, user)
}

func (t *txRepo) SetRoles(_ context.Context, userID uuid.UUID, roles []auth.Role) error {
	return setRoles(t.st, userID, roles)
}

func (t *txRepo) LinkOrganizer(_ context.Context, userID uuid.UUID, name string) (int64, error) {
	return linkOrganizer(t.st, userID, name)
}

func (t *txRepo) LockUser(_ context.Context, userID uuid.UUID) error {
	_, err := findByID(t.st, userID)
	return err
}

func (t *txRepo) FindByToken(_ context.Context, token string) (auth.TokenRecord, error) {
	return findToken(t.st, token)
}

func (t *txRepo) LockByToken(_ context.Context, token string) (auth.TokenRecord, error) {
	return findToken(t.st, token)
}

func (t *txRepo) Record(_ context.Context, record auth.TokenRecord) error {
	return recordToken(t.st, record)
}

func (t *txRepo) Revoke(_ context.Context, token string) (bool, error) {
	return revoke(t.st, token), nil
}

func (t *txRepo) RevokeAllForUser(_ context.Context, userID uuid.UUID) (int64, error) {
	return revokeAll(t.st, userID), nil
}

func (t *txRepo) MarkExpired(_ context.Context, before time.Time) (int64, error) {
	return markExpired(t.st, before), nil
}

func findByUsername(st *state, username string) (*accounts.User, error) {
	for _, u := range st.users {
		if u.Username == username {
			out := copyUser(u)
			return &out, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func findByEmail(st *state, email string) (*accounts.User, error) {
	for _, u := range st.users {
		if strings.EqualFold(u.Email, email) {
			out := copyUser(u)
			return &out, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func findByID(st *state, id uuid.UUID) (*accounts.User, error) {
	u, ok := st.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	out := copyUser(u)
	return &out, nil
}

func create(st *state, user *accounts.User) error {
	for _, u := range st.users {
		if u.Username == user.Username || strings.EqualFold(u.Email, user.Email) {
			return auth.ErrDuplicateUser
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	st.users[user.ID] = copyUser(*user)
	return nil
}

func setRoles(st *state, userID uuid.UUID, roles []auth.Role) error {
	u, ok := st.users[userID]
	if !ok {
		return auth.ErrUserNotFound
	}
	u.Roles = append([]auth.Role(nil), roles...)
	st.users[userID] = u
	return nil
}

func linkOrganizer(st *state, userID uuid.UUID, name string) (int64, error) {
	u, ok := st.users[userID]
	if !ok {
		return 0, auth.ErrUserNotFound
	}
	st.organizerID++
	id := st.organizerID
	u.OrganizerID = &id
	u.OrganizerName = name
	st.users[userID] = u
	return id, nil
}

func findToken(st *state, token string) (auth.TokenRecord, error) {
	rec, ok := st.tokens[token]
	if !ok {
		return auth.TokenRecord{}, auth.ErrTokenNotFound
	}
	return rec, nil
}

func recordToken(st *state, record auth.TokenRecord) error {
	if _, ok := st.users[record.UserID]; !ok {
		return auth.ErrUserNotFound
	}
	st.tokens[record.Token] = record
	return nil
}

func revoke(st *state, token string) bool {
	rec, ok := st.tokens[token]
	if !ok || rec.Revoked {
		return false
	}
	rec.Revoked = true
	st.tokens[token] = rec
	return true
}

func revokeAll(st *state, userID uuid.UUID) int64 {
	var n int64
	for tok, rec := range st.tokens {
		if rec.UserID == userID && rec.Usable() {
			rec.Revoked = true
			st.tokens[tok] = rec
			n++
		}
	}
	return n
}

func markExpired(st *state, before time.Time) int64 {
	var n int64
	for tok, rec := range st.tokens {
		if !rec.Expired && !rec.ExpiresAt.After(before) {
			rec.Expired = true
			st.tokens[tok] = rec
			n++
		}
	}
	return n
}

func copyUser(u accounts.User) accounts.User {
	u.Roles = append([]auth.Role(nil), u.Roles...)
	if u.OrganizerID != nil {
		id := *u.OrganizerID
		u.OrganizerID = &id
	}
	return u
}
