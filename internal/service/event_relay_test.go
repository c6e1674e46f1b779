package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"carbon-ledger/internal/core/domain"
	"carbon-ledger/internal/core/ports/mocks"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type relayTestDeps struct {
	relay     *EventRelay
	events    *mocks.MockLedgerEventRepository
	publisher *mocks.MockEventPublisher
	metrics   *mocks.MockMetrics
	ctrl      *gomock.Controller
}

func setupRelay(t *testing.T) *relayTestDeps {
	ctrl := gomock.NewController(t)
	d := &relayTestDeps{
		events:    mocks.NewMockLedgerEventRepository(ctrl),
		publisher: mocks.NewMockEventPublisher(ctrl),
		metrics:   mocks.NewMockMetrics(ctrl),
		ctrl:      ctrl,
	}
	d.relay = NewEventRelay(d.events, d.publisher, d.metrics, 10*time.Millisecond, 50, zerolog.Nop())
	return d
}

func pendingEvents(seqs ...int64) []domain.LedgerEvent {
	out := make([]domain.LedgerEvent, 0, len(seqs))
	for _, s := range seqs {
		out = append(out, domain.LedgerEvent{Seq: s, Type: domain.EventMint})
	}
	return out
}

func TestEventRelay_Flush_PublishesInOrder(t *testing.T) {
	d := setupRelay(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.events.EXPECT().ListUnpublished(ctx, 50).Return(pendingEvents(4, 5), nil)
	gomock.InOrder(
		d.publisher.EXPECT().Publish(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, e *domain.LedgerEvent) error {
			assert.Equal(t, int64(4), e.Seq)
			return nil
		}),
		d.events.EXPECT().MarkPublished(ctx, int64(4), gomock.Any()).Return(nil),
		d.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil),
		d.events.EXPECT().MarkPublished(ctx, int64(5), gomock.Any()).Return(nil),
	)
	d.metrics.EXPECT().EventsPublished(2)

	n, err := d.relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEventRelay_Flush_StopsAtFirstFailure(t *testing.T) {
	d := setupRelay(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.events.EXPECT().ListUnpublished(ctx, 50).Return(pendingEvents(1, 2, 3), nil)
	gomock.InOrder(
		d.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil),
		d.events.EXPECT().MarkPublished(ctx, int64(1), gomock.Any()).Return(nil),
		d.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(errors.New("channel closed")),
	)
	d.metrics.EXPECT().EventsPublished(1)

	n, err := d.relay.Flush(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish event 2")
	assert.Equal(t, 1, n)
}

func TestEventRelay_Flush_ListError(t *testing.T) {
	d := setupRelay(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.events.EXPECT().ListUnpublished(ctx, 50).Return(nil, errors.New("db down"))

	_, err := d.relay.Flush(ctx)
	require.Error(t, err)
}

func TestEventRelay_Run_StopsOnCancel(t *testing.T) {
	d := setupRelay(t)
	defer d.ctrl.Finish()

	ctx, cancel := context.WithCancel(context.Background())
	flushed := make(chan struct{}, 1)
	d.events.EXPECT().ListUnpublished(gomock.Any(), 50).DoAndReturn(func(context.Context, int) ([]domain.LedgerEvent, error) {
		select {
		case flushed <- struct{}{}:
		default:
		}
		return nil, nil
	}).MinTimes(1)
	d.metrics.EXPECT().EventsPublished(0).MinTimes(1)

	done := make(chan error, 1)
	go func() { done <- d.relay.Run(ctx) }()

	select {
	case <-flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("relay never flushed")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestEventRelay_MemoryStore(t *testing.T) {
	env := newLedgerEnv(t, domain.OverfundingCap)
	env.register(t, alice)

	var got []int64
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockEventPublisher(ctrl)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e *domain.LedgerEvent) error {
		got = append(got, e.Seq)
		return nil
	}).AnyTimes()

	relay := NewEventRelay(env.store.Events(), publisher, env.metrics, time.Second, 1, zerolog.Nop())
	ctx := context.Background()
	for {
		n, err := relay.Flush(ctx)
		require.NoError(t, err)
		if n == 0 {
			break
		}
	}
	assert.Equal(t, []int64{1, 2}, got, "admin and alice registrations")

	n, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
