package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTime struct {
	mtx sync.Mutex
	now time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.now
}
func (f *fakeTime) Set(t time.Time) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.now = t
}

func TestDate(t *testing.T) {
	t.Run("should convert time to UTC date", func(t *testing.T) {
		loc := time.FixedZone("UTC+5", 5*3600)
		d := DateOf(time.Date(2020, 3, 2, 2, 0, 0, 0, loc))
		require.Equal(t, Date{2020, 3, 1}, d)
		require.Equal(t, "2020-03-01", d.String())
		require.Equal(t, uint64(20200301), d.Int())
	})
	t.Run("should compare dates", func(t *testing.T) {
		require.True(t, Date{2019, 12, 31}.Before(Date{2020, 1, 1}))
		require.True(t, Date{2020, 1, 2}.After(Date{2020, 1, 1}))
		require.False(t, Date{2020, 1, 1}.After(Date{2020, 1, 1}))
	})
}

func TestSystemClock(t *testing.T) {
	ft := &fakeTime{now: time.Date(2020, 1, 1, 23, 59, 59, 0, time.UTC)}
	c := New(WithNow(ft.Now), WithInterval(5*time.Millisecond))
	defer c.Close()
	require.Equal(t, Date{2020, 1, 1}, c.Today())
	ch, cancel := c.Subscribe()
	defer cancel()

	t.Run("should notify when the date changes", func(t *testing.T) {
		ft.Set(time.Date(2020, 1, 2, 0, 0, 1, 0, time.UTC))
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("date change was not notified")
		}
		require.Equal(t, Date{2020, 1, 2}, c.Today())
	})
	t.Run("should not notify while the date stays the same", func(t *testing.T) {
		ft.Set(time.Date(2020, 1, 2, 12, 0, 0, 0, time.UTC))
		select {
		case <-ch:
			t.Fatal("unexpected notification")
		case <-time.After(50 * time.Millisecond):
		}
	})
	t.Run("should allow closing twice", func(t *testing.T) {
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
	})
}

func TestManualClock(t *testing.T) {
	c := NewManual(Date{2020, 1, 1})
	ch, cancel := c.Subscribe()
	defer cancel()
	c.Set(Date{2020, 1, 1})
	require.Len(t, ch, 0)
	c.Set(Date{2020, 1, 2})
	require.Len(t, ch, 1)
	require.Equal(t, Date{2020, 1, 2}, c.Today())
}
