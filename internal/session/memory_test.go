package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"janseva.org/internal/auth"
)

type InMemorySuite struct {
	suite.Suite
	store *InMemory
}

func TestInMemorySuite(t *testing.T) {
	suite.Run(t, new(InMemorySuite))
}

func (s *InMemorySuite) SetupTest() {
	s.store = NewInMemory()
}

func (s *InMemorySuite) TestSaveAndGet() {
	ctx := context.Background()
	sess := Session{
		ID:        "s1",
		Actor:     auth.Actor{Username: "ram", Role: auth.RoleCitizen},
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	s.Require().NoError(s.store.Save(ctx, sess))

	got, err := s.store.Get(ctx, "s1")
	s.Require().NoError(err)
	s.Equal(sess.Actor, got.Actor)
}

func (s *InMemorySuite) TestGetUnknown() {
	_, err := s.store.Get(context.Background(), "missing")
	s.Require().ErrorIs(err, ErrNotFound)
}

func (s *InMemorySuite) TestExpiredSessionIsEvicted() {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s.store.now = func() time.Time { return now }
	s.Require().NoError(s.store.Save(ctx, Session{ID: "s1", ExpiresAt: now.Add(time.Minute)}))

	now = now.Add(2 * time.Minute)
	_, err := s.store.Get(ctx, "s1")
	s.Require().ErrorIs(err, ErrExpired)
	s.Equal(0, s.store.Len())
}

func (s *InMemorySuite) TestDelete() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, Session{ID: "s1"}))
	s.Require().NoError(s.store.Delete(ctx, "s1"))
	s.Require().ErrorIs(s.store.Delete(ctx, "s1"), ErrNotFound)
}
