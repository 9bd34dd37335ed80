package platform

import (
	"context"
	"sync"
)

// In-memory Client for tests and local development. Records every sanction
// call as "<action> <subject>".
type MockClient struct {
	mu       sync.Mutex
	Profiles map[string]Profile
	Posts    map[string]Post
	Calls    []string
	// sanction calls for these subjects fail with the given error
	Failures map[string]error
}

var _ Client = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{
		Profiles: make(map[string]Profile),
		Posts:    make(map[string]Post),
		Failures: make(map[string]error),
	}
}

func (m *MockClient) SetProfile(subject string, p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Profiles[subject] = p
}

func (m *MockClient) SetPost(id string, p Post) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Posts[id] = p
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

func (m *MockClient) GetProfile(ctx context.Context, subject string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Profiles[subject]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MockClient) GetPost(ctx context.Context, id string) (*Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
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
