package auth

import (
	"context"
	"sync"
	"time"
)

// fakeStore is an in-memory Store used by the package tests. It honors the
// store contract: generated values on save, (nil, nil) for absent or expired
// rows, idempotent deletes, and atomic consumes.
type fakeStore struct {
	mu        sync.Mutex
	generator *TokenGenerator

	clients  map[string]*Client
	users    map[string]*User
	access   map[string]*AccessToken
	refresh  map[string]*RefreshToken
	codes    map[string]*AuthorizationCode

	// failSaveAccess makes the next SaveAccessToken fail, for rollback tests
	failSaveAccess error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		generator: NewTokenGenerator(),
		clients:   make(map[string]*Client),
		users:     make(map[string]*User),
		access:    make(map[string]*AccessToken),
		refresh:   make(map[string]*RefreshToken),
		codes:     make(map[string]*AuthorizationCode),
	}
}

func (s *fakeStore) addClient(c *Client) { s.clients[c.ID] = c }
func (s *fakeStore) addUser(u *User)     { s.users[u.Email] = u }

func (s *fakeStore) GetClient(ctx context.Context, id string) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[id], nil
}

func (s *fakeStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[email], nil
}

func (s *fakeStore) SaveAccessToken(ctx context.Context, token *AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaveAccess != nil {
		err := s.failSaveAccess
		s.failSaveAccess = nil
		return err
	}
	value, err := s.generator.AccessTokenValue()
	if err != nil {
		return err
	}
	token.Token = value
	token.CreatedAt = time.Now()
	copied := *token
	s.access[value] = &copied
	return nil
}

func (s *fakeStore) GetAccessToken(ctx context.Context, value string) (*AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.access[value]
	if !ok || token.IsExpired(time.Now()) {
		return nil, nil
	}
	copied := *token
	return &copied, nil
}

func (s *fakeStore) DeleteAccessToken(ctx context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.access, value)
	return nil
}

func (s *fakeStore) SaveRefreshToken(ctx context.Context, token *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, err := s.generator.RefreshTokenValue()
	if err != nil {
		return err
	}
	token.Token = value
	token.CreatedAt = time.Now()
	copied := *token
	s.refresh[value] = &copied
	return nil
}

func (s *fakeStore) GetRefreshToken(ctx context.Context, value string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.refresh[value]
	if !ok || token.IsExpired(time.Now()) {
		return nil, nil
	}
	copied := *token
	return &copied, nil
}

func (s *fakeStore) DeleteRefreshToken(ctx context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refresh, value)
	return nil
}

func (s *fakeStore) ConsumeRefreshToken(ctx context.Context, value string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.refresh[value]
	if !ok || token.IsExpired(time.Now()) {
		return nil, nil
	}
	delete(s.refresh, value)
	copied := *token
	return &copied, nil
}

func (s *fakeStore) SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, err := s.generator.AuthorizationCodeValue()
	if err != nil {
		return err
	}
	code.Code = value
	code.CreatedAt = time.Now()
	copied := *code
	s.codes[value] = &copied
	return nil
}

func (s *fakeStore) GetAuthorizationCode(ctx context.Context, value string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.codes[value]
	if !ok || code.IsExpired(time.Now()) {
		return nil, nil
	}
	copied := *code
	return &copied, nil
}

func (s *fakeStore) DeleteAuthorizationCode(ctx context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, value)
	return nil
}

func (s *fakeStore) ConsumeAuthorizationCode(ctx context.Context, value string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.codes[value]
	if !ok || code.IsExpired(time.Now()) {
		return nil, nil
	}
	delete(s.codes, value)
	copied := *code
	return &copied, nil
}

func (s *fakeStore) DeleteExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var removed int64
	for k, v := range s.access {
		if v.IsExpired(now) {
			delete(s.access, k)
			removed++
		}
	}
	for k, v := range s.refresh {
		if v.IsExpired(now) {
			delete(s.refresh, k)
			removed++
		}
	}
	for k, v := range s.codes {
		if v.IsExpired(now) {
			delete(s.codes, k)
			removed++
		}
	}
	return removed, nil
}
