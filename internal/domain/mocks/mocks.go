// Package mocks provides testify mocks for the domain contracts.
package mocks

import (
	"context"
	"testing"

	"github.com/campuslink/chatsync/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockRoomStore struct {
	mock.Mock
}

func NewMockRoomStore(t *testing.T) *MockRoomStore {
	m := &MockRoomStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockRoomStore) Rooms(ctx context.Context, userID string) ([]domain.Room, error) {
	args := m.Called(ctx, userID)

	rooms, _ := args.Get(0).([]domain.Room)
	return rooms, args.Error(1)
}

func (m *MockRoomStore) Room(ctx context.Context, roomID string) (domain.Room, error) {
	args := m.Called(ctx, roomID)

	room, _ := args.Get(0).(domain.Room)
	return room, args.Error(1)
}

func (m *MockRoomStore) AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	args := m.Called(ctx, msg)

	stored, _ := args.Get(0).(domain.Message)
	return stored, args.Error(1)
}

func (m *MockRoomStore) MessagesBefore(ctx context.Context, roomID, before string, limit int) ([]domain.Message, bool, error) {
	args := m.Called(ctx, roomID, before, limit)

	messages, _ := args.Get(0).([]domain.Message)
	return messages, args.Bool(1), args.Error(2)
}

func (m *MockRoomStore) MarkRead(ctx context.Context, roomID, userID string) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

type MockBroadcaster struct {
	mock.Mock
}

func NewMockBroadcaster(t *testing.T) *MockBroadcaster {
	m := &MockBroadcaster{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockBroadcaster) Broadcast(ctx context.Context, channel string, msg domain.Message) error {
	args := m.Called(ctx, channel, msg)
	return args.Error(0)
}

type MockMessenger struct {
	mock.Mock
}

func NewMockMessenger(t *testing.T) *MockMessenger {
	m := &MockMessenger{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockMessenger) SendEvent(ctx context.Context, event string, payload any) error {
	args := m.Called(ctx, event, payload)
	return args.Error(0)
}
