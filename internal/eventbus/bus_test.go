package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToSubscribers(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TopicKillSwitch, Data: true})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			require.Equal(t, TopicKillSwitch, e.Type)
			require.False(t, e.Time.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	require.Len(t, ch, 1)

	unsub()
	unsub()
	b.Publish(Event{Type: "c"})
	_, ok := <-ch
	require.True(t, ok)
	_, ok = <-ch
	require.False(t, ok)
}

func TestSubscribeFiltersByTopicPrefix(t *testing.T) {
	t.Parallel()
	b := New()
	supp, unsub := b.Subscribe(4, "suppression")
	defer unsub()

	b.Publish(Event{Type: TopicStreamLive})
	b.Publish(Event{Type: TopicFocusArmed})
	b.Publish(Event{Type: "suppressionish"})
	b.Publish(Event{Type: TopicKillSwitch})

	require.Len(t, supp, 2)
	require.Equal(t, TopicFocusArmed, (<-supp).Type)
	require.Equal(t, TopicKillSwitch, (<-supp).Type)
}
