package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New(DefaultConfig(), nil)
	defer b.Close()

	ch, cancel, err := b.Subscribe(TopicCandle)
	require.NoError(t, err)
	defer cancel()

	b.Publish(TopicCandle, "payload-1")
	b.Publish(TopicTrade, "other-topic")

	select {
	case evt := <-ch:
		assert.Equal(t, TopicCandle, evt.Topic)
		assert.Equal(t, "payload-1", evt.Payload)
		assert.False(t, evt.PublishedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	// Nothing else on this topic.
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	default:
	}
}

func TestBus_FanOut(t *testing.T) {
	b := New(DefaultConfig(), nil)
	defer b.Close()

	ch1, cancel1, err := b.Subscribe(TopicTrade)
	require.NoError(t, err)
	defer cancel1()

	ch2, cancel2, err := b.Subscribe(TopicTrade)
	require.NoError(t, err)
	defer cancel2()

	b.Publish(TopicTrade, 42)

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			assert.Equal(t, 42, evt.Payload)
		case <-time.After(time.Second):
			t.Fatal("event not delivered to all subscribers")
		}
	}
}

func TestBus_SubscriberCap(t *testing.T) {
	b := New(Config{MaxSubscribers: 2, BufferSize: 1}, nil)
	defer b.Close()

	_, cancel1, err := b.Subscribe(TopicStatus)
	require.NoError(t, err)
	defer cancel1()

	_, cancel2, err := b.Subscribe(TopicStatus)
	require.NoError(t, err)

	_, _, err = b.Subscribe(TopicStatus)
	assert.ErrorIs(t, err, ErrTooManySubscribers)

	// Unsubscribing frees a slot.
	cancel2()
	_, cancel3, err := b.Subscribe(TopicStatus)
	assert.NoError(t, err)
	cancel3()
}

func TestBus_FullSubscriberDropsNotBlocks(t *testing.T) {
	b := New(Config{MaxSubscribers: 4, BufferSize: 1}, nil)
	defer b.Close()

	ch, cancel, err := b.Subscribe(TopicCandle)
	require.NoError(t, err)
	defer cancel()

	done := make(chan struct{})
	go func() {
		b.Publish(TopicCandle, 1)
		b.Publish(TopicCandle, 2) // buffer full, must not block
		b.Publish(TopicCandle, 3)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on full subscriber")
	}

	evt := <-ch
	assert.Equal(t, 1, evt.Payload)

	st := b.Stats()
	assert.Equal(t, int64(3), st.Published)
	assert.Equal(t, int64(2), st.Dropped)
}

func TestBus_Close(t *testing.T) {
	b := New(DefaultConfig(), nil)

	ch, _, err := b.Subscribe(TopicCandle)
	require.NoError(t, err)

	b.Close()

	_, ok := <-ch
	assert.False(t, ok, "subscriber channel should be closed")

	_, _, err = b.Subscribe(TopicCandle)
	assert.ErrorIs(t, err, ErrBusClosed)

	// Publishing after close is a no-op.
	b.Publish(TopicCandle, "ignored")
}
