package identity

import (
	"context"
	"errors"
	"sync"
)

var ErrUnknownToken = errors.New("unknown token")

// In-memory Client for tests. Tokens map directly to profiles.
type MockClient struct {
	mu       sync.Mutex
	Tokens   map[string]Profile
	Calls    []string
	Failures map[string]error
}

var _ Client = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{
		Tokens:   make(map[string]Profile),
		Failures: make(map[string]error),
	}
}

func (m *MockClient) Insert(token string, p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tokens[token] = p
}

func (m *MockClient) Fail(subject string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failures[subject] = err
}

func (m *MockClient) CallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Calls...)
}

func (m *MockClient) record(action, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, action+" "+subject)
	return m.Failures[subject]
}

func (m *MockClient) SuspendAccount(ctx context.Context, subject string) error {
	return m.record("suspend", subject)
}

func (m *MockClient) UnsuspendAccount(ctx context.Context, subject string) error {
	return m.record("unsuspend", subject)
}

func (m *MockClient) DeleteAccount(ctx context.Context, subject string) error {
	return m.record("delete", subject)
}

func (m *MockClient) GetProfile(ctx context.Context, token string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Tokens[token]
	if !ok {
		return nil, ErrUnknownToken
	}
	return &p, nil
}
