package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/ConnectService/internal/models"
)

// MemoryStore is an in-memory Provider Persistence used by tests. Set
// Errors[method] to make that method fail.
type MemoryStore struct {
	mu          sync.Mutex
	users       map[uuid.UUID]*models.User
	connections map[uuid.UUID]*models.Connection
	Errors      map[string]error
	Now         func() time.Time
	// Calls counts invocations per method.
	Calls map[string]int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[uuid.UUID]*models.User),
		connections: make(map[uuid.UUID]*models.Connection),
		Errors:      make(map[string]error),
		Calls:       make(map[string]int),
		Now:         time.Now,
	}
}

func (s *MemoryStore) enter(method string) error {
	s.Calls[method]++
	return s.Errors[method]
}

// AddUser stores user as is and returns it.
func (s *MemoryStore) AddUser(user *models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	cp := *user
	s.users[user.ID] = &cp
	return user
}

// AddConnection stores conn as is and returns it.
func (s *MemoryStore) AddConnection(conn *models.Connection) *models.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	cp := *conn
	s.connections[conn.ID] = &cp
	return conn
}

// Connections returns a copy of every stored row.
func (s *MemoryStore) Connections() []*models.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Connection, 0, len(s.connections))
	for _, c := range s.connections {
		cp := *c
		out = append(out, &cp)
	}
	return out
}

// Users returns a copy of every stored user.
func (s *MemoryStore) Users() []*models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	return out
}

func (s *MemoryStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetUser"); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) FindUserByProvider(_ context.Context, provider models.Platform, providerID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindUserByProvider"); err != nil {
		return nil, err
	}
	var first *models.Connection
	for _, c := range s.connections {
		if c.Provider == provider && c.ProviderID == providerID {
			if first == nil || c.CreatedAt.Before(first.CreatedAt) {
				first = c
			}
		}
	}
	if first == nil {
		return nil, models.ErrNotFound
	}
	u, ok := s.users[first.UserID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateUser"); err != nil {
		return nil, err
	}
	cp := *user
	cp.ID = uuid.New()
	cp.CreatedAt = s.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.users[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) TouchLogin(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("TouchLogin"); err != nil {
		return err
	}
	u, ok := s.users[id]
	if !ok {
		return models.ErrNotFound
	}
	now := s.Now()
	u.LastLogin = &now
	return nil
}

func (s *MemoryStore) GetConnection(_ context.Context, id uuid.UUID) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetConnection"); err != nil {
		return nil, err
	}
	c, ok := s.connections[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetActiveConnection(_ context.Context, userID uuid.UUID, provider models.Platform) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetActiveConnection"); err != nil {
		return nil, err
	}
	var latest *models.Connection
	for _, c := range s.connections {
		if c.UserID == userID && c.Provider == provider && c.IsActive {
			if latest == nil || c.UpdatedAt.After(latest.UpdatedAt) {
				latest = c
			}
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) ActiveConnections(_ context.Context, userID uuid.UUID, provider models.Platform) ([]*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ActiveConnections"); err != nil {
		return nil, err
	}
	var out []*models.Connection
	for _, c := range s.connections {
		if c.UserID == userID && c.Provider == provider && c.IsActive {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) ListConnections(_ context.Context, userID uuid.UUID) ([]*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListConnections"); err != nil {
		return nil, err
	}
	var out []*models.Connection
	for _, c := range s.connections {
		if c.UserID == userID && c.IsActive {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (s *MemoryStore) UpsertConnection(_ context.Context, conn *models.Connection) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpsertConnection"); err != nil {
		return nil, err
	}
	now := s.Now()
	for _, c := range s.connections {
		if c.UserID == conn.UserID && c.Provider == conn.Provider && c.ProviderID == conn.ProviderID {
			id, created, secret, oauth1 := c.ID, c.CreatedAt, c.AccessTokenSecret, c.OAuth1Token
			*c = *conn
			c.ID, c.CreatedAt, c.UpdatedAt = id, created, now
			if c.AccessTokenSecret == "" {
				c.AccessTokenSecret, c.OAuth1Token = secret, oauth1
			}
			cp := *c
			return &cp, nil
		}
	}
	cp := *conn
	cp.ID = uuid.New()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.connections[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) PatchConnectionSecret(_ context.Context, id uuid.UUID, token, secret string) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("PatchConnectionSecret"); err != nil {
		return nil, err
	}
	c, ok := s.connections[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c.OAuth1Token = token
	c.AccessTokenSecret = secret
	c.UpdatedAt = s.Now()
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) UpdateConnectionTokens(_ context.Context, id uuid.UUID, update models.TokenUpdate) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateConnectionTokens"); err != nil {
		return nil, err
	}
	c, ok := s.connections[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c.AccessToken = update.AccessToken
	if update.RefreshToken != "" {
		c.RefreshToken = update.RefreshToken
	}
	c.TokenExpiresAt = update.TokenExpiresAt
	c.UpdatedAt = s.Now()
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) DeleteConnection(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteConnection"); err != nil {
		return err
	}
	if _, ok := s.connections[id]; !ok {
		return models.ErrNotFound
	}
	delete(s.connections, id)
	return nil
}
