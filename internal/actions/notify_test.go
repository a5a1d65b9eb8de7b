package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedDropsOldest(t *testing.T) {
	feed := NewFeed(2)
	feed.Notify(Notification{Message: "one"})
	feed.Notify(Notification{Message: "two"})
	feed.Notify(Notification{Message: "three"})

	all := feed.Since(0)
	require.Len(t, all, 2)
	assert.Equal(t, "two", all[0].Message)
	assert.Equal(t, uint64(3), all[1].Seq)
}

func TestFeedSince(t *testing.T) {
	feed := NewFeed(10)
	for _, msg := range []string{"a", "b", "c"} {
		feed.Notify(Notification{Message: msg})
	}
	later := feed.Since(2)
	require.Len(t, later, 1)
	assert.Equal(t, "c", later[0].Message)
	assert.Empty(t, feed.Since(3))
}

func TestFeedChangedSignalsNotify(t *testing.T) {
	feed := NewFeed(10)
	changed := feed.Changed()

	select {
	case <-changed:
		t.Fatal("changed closed before any notification")
	default:
	}

	feed.Notify(Notification{Message: "a"})
	select {
	case <-changed:
	default:
		t.Fatal("changed not closed after notify")
	}

	next := feed.Changed()
	select {
	case <-next:
		t.Fatal("fresh channel already closed")
	default:
	}
}
