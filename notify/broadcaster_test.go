package notify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	first, cancelFirst := b.Subscribe()
	second, cancelSecond := b.Subscribe()
	defer cancelSecond()
	require.Equal(t, 2, b.Subscribers())

	t.Run("should wake every subscriber", func(t *testing.T) {
		b.Notify()
		require.Len(t, first, 1)
		require.Len(t, second, 1)
		<-first
		<-second
	})
	t.Run("should coalesce pending notifications", func(t *testing.T) {
		b.Notify()
		b.Notify()
		b.Notify()
		require.Len(t, first, 1)
		<-first
		<-second
		require.Len(t, first, 0)
	})
	t.Run("should stop waking released subscribers", func(t *testing.T) {
		cancelFirst()
		cancelFirst()
		require.Equal(t, 1, b.Subscribers())
		b.Notify()
		require.Len(t, first, 0)
		require.Len(t, second, 1)
	})
}
