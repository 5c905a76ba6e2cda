package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/softwareproject/portal/internal/interfaces"
	"github.com/softwareproject/portal/internal/models"
)

// Keys persisted for every browser.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)

var sessionKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser}

// Store reads and writes one browser's session keys inside a namespace of a
// KeyValueStorage. Writes are not coordinated between requests; the last
// writer wins.
type Store struct {
	kv        interfaces.KeyValueStorage
	namespace string
}

// NewStore binds a store to namespace.
func NewStore(kv interfaces.KeyValueStorage, namespace string) *Store {
	return &Store{kv: kv, namespace: namespace}
}

// Namespace returns the namespace the store is bound to.
func (s *Store) Namespace() string {
	return s.namespace
}

func (s *Store) key(name string) string {
	return s.namespace + ":" + name
}

func (s *Store) get(ctx context.Context, name string) (string, error) {
	v, err := s.kv.Get(ctx, s.key(name))
	if errors.Is(err, interfaces.ErrNotFound) {
		return "", nil
	}
	return v, err
}

// AccessToken returns the stored access token, or "" when absent.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	return s.get(ctx, KeyAccessToken)
}

// RefreshToken returns the stored refresh token, or "" when absent.
func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	return s.get(ctx, KeyRefreshToken)
}

// User returns the stored user, or nil when absent.
func (s *Store) User(ctx context.Context) (*models.User, error) {
	raw, err := s.get(ctx, KeyUser)
	if err != nil || raw == "" {
		return nil, err
	}
	var u models.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("failed to decode stored user: %w", err)
	}
	return &u, nil
}

// SetAccessToken replaces the stored access token.
func (s *Store) SetAccessToken(ctx context.Context, token string) error {
	return s.kv.Set(ctx, s.key(KeyAccessToken), token)
}

// SetRefreshToken replaces the stored refresh token.
func (s *Store) SetRefreshToken(ctx context.Context, token string) error {
	return s.kv.Set(ctx, s.key(KeyRefreshToken), token)
}

// SetUser replaces the stored user.
func (s *Store) SetUser(ctx context.Context, u *models.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.key(KeyUser), string(data))
}

// Save persists a whole session. A nil user leaves the stored user alone.
func (s *Store) Save(ctx context.Context, sess models.Session) error {
	if err := s.SetAccessToken(ctx, sess.AccessToken); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	if err := s.SetRefreshToken(ctx, sess.RefreshToken); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	if sess.User != nil {
		if err := s.SetUser(ctx, sess.User); err != nil {
			return fmt.Errorf("failed to store user: %w", err)
		}
	}
	return nil
}

// Load returns everything stored for this browser. Absent keys are zero.
func (s *Store) Load(ctx context.Context) (*models.Session, error) {
	access, err := s.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	refresh, err := s.RefreshToken(ctx)
	if err != nil {
		return nil, err
	}
	user, err := s.User(ctx)
	if err != nil {
		return nil, err
	}
	return &models.Session{AccessToken: access, RefreshToken: refresh, User: user}, nil
}

// Clear removes every session key together.
func (s *Store) Clear(ctx context.Context) error {
	var errs []error
	for _, name := range sessionKeys {
		if err := s.kv.Delete(ctx, s.key(name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
