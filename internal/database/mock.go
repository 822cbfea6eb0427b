package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockRepository) GetUserById(ctx context.Context, userId string) (User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) UpdateLastSeen(ctx context.Context, userId string, lastSeen time.Time) error {
	args := m.Called(ctx, userId, lastSeen)
	return args.Error(0)
}
func (m *MockRepository) GetLastSeen(ctx context.Context, userId string) (*time.Time, error) {
	args := m.Called(ctx, userId)
	if t, ok := args.Get(0).(*time.Time); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}
