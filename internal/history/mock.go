package history

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Offer(e Event) {
	m.Called(e)
}

func (m *MockSink) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockSink) Recent(ctx context.Context, partyId string, limit int) ([]Event, error) {
	args := m.Called(ctx, partyId, limit)
	if events, ok := args.Get(0).([]Event); ok {
		return events, args.Error(1)
	}
	return nil, args.Error(1)
}
