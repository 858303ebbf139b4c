package mail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"authgate/internal/mail/mocks"
)

type resultCounts struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *resultCounts) IncrementMailDispatch(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[result]++
}

func (c *resultCounts) get(result string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[result]
}

type AsyncDispatcherSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	next    *mocks.MockDispatcher
	counter *resultCounts
}

func TestAsyncDispatcherSuite(t *testing.T) {
	suite.Run(t, new(AsyncDispatcherSuite))
}

func (s *AsyncDispatcherSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.next = mocks.NewMockDispatcher(s.ctrl)
	s.counter = &resultCounts{counts: map[string]int{}}
}

func (s *AsyncDispatcherSuite) TestDeliversFromRunLoop() {
	d := NewAsyncDispatcher(s.next, 4, WithResultCounter(s.counter))
	delivered := make(chan struct{})
	s.next.EXPECT().
		SendVerificationEmail(gomock.Any(), "jane@example.com", "http://app/verify?token=t").
		DoAndReturn(func(context.Context, string, string) error {
			close(delivered)
			return nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	s.Require().NoError(d.SendVerificationEmail(context.Background(), "jane@example.com", "http://app/verify?token=t"))
	select {
	case <-delivered:
	case <-time.After(time.Second):
		s.Fail("message was not delivered")
	}
	cancel()
	s.NoError(<-done)
	s.Equal(1, s.counter.get("sent"))
}

func (s *AsyncDispatcherSuite) TestFullQueueReturnsErrQueueFull() {
	d := NewAsyncDispatcher(s.next, 1, WithResultCounter(s.counter))

	s.Require().NoError(d.SendVerificationEmail(context.Background(), "a@example.com", "l"))
	err := d.SendVerificationEmail(context.Background(), "b@example.com", "l")
	s.ErrorIs(err, ErrQueueFull)
	s.Equal(1, s.counter.get("dropped"))
}

func (s *AsyncDispatcherSuite) TestFailuresAreCountedNotReturned() {
	d := NewAsyncDispatcher(s.next, 2, WithResultCounter(s.counter))
	s.next.EXPECT().SendVerificationEmail(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("smtp down"))

	s.Require().NoError(d.SendVerificationEmail(context.Background(), "a@example.com", "l"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.NoError(d.Run(ctx))
	s.Equal(1, s.counter.get("failed"))
}

func (s *AsyncDispatcherSuite) TestShutdownDrainsQueue() {
	d := NewAsyncDispatcher(s.next, 8)
	s.next.EXPECT().SendVerificationEmail(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(3)

	for range 3 {
		s.Require().NoError(d.SendVerificationEmail(context.Background(), "x@example.com", "l"))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.NoError(d.Run(ctx))
}

func TestLogDispatcherNeverFails(t *testing.T) {
	d := NewLogDispatcher(nil)
	if err := d.SendVerificationEmail(context.Background(), "a@example.com", "http://x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
