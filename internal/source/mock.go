package source

import (
	"context"
	"time"

	"github.com/vitalsink/vitalsink/internal/mockdata"
)

// Factory yields the client used for one user's fetches. Deployments with a
// single upstream account return the same client for every user.
type Factory func(userID int64) Client

// MockCaller synthesizes payloads locally. Login always succeeds, so a
// guard wrapped around it exercises the full etiquette path without
// touching the network.
type MockCaller struct {
	gen    *mockdata.Generator
	userID int64
}

var _ Caller = (*MockCaller)(nil)

func NewMockCaller(gen *mockdata.Generator, userID int64) *MockCaller {
	return &MockCaller{gen: gen, userID: userID}
}

func (m *MockCaller) Login(ctx context.Context) error {
	return ctx.Err()
}

func (m *MockCaller) Call(ctx context.Context, family Family, day time.Time) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.gen.Payload(family.String(), m.userID, day), nil
}

// MockFactory wires a guard around a per-user mock caller, sharing one
// state store so the mock path behaves like the production one.
func MockFactory(seed int64, state StateStore, policy RetryPolicy) Factory {
	gen := mockdata.New(seed)
	return func(userID int64) Client {
		return NewGuard(NewMockCaller(gen, userID), state, policy)
	}
}
