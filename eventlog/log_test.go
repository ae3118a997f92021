package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/eventlog/clock"
	"github.com/vx-labs/eventlog/commitlog"
	"github.com/vx-labs/eventlog/stream"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

var day = clock.Date{Year: 2020, Month: 1, Day: 5}

func tempTemplate(t *testing.T) string {
	dir, err := ioutil.TempDir("", "eventlog")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "log", "events-%y-%m-%d.log")
}

func testOpts(t *testing.T, c clock.Clock) []OpenOpt {
	return []OpenOpt{
		WithClock(c),
		WithLogger(zaptest.NewLogger(t)),
		WithReaderOpts(stream.ReaderOpts{
			Debounce:         10 * time.Millisecond,
			RotationInterval: 20 * time.Millisecond,
			PollInterval:     10 * time.Millisecond,
		}),
	}
}

func openLog(t *testing.T, template string, c clock.Clock, opts ...OpenOpt) *Log {
	l, err := Open(template, append(testOpts(t, c), opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func position(d clock.Date, seq uint64) uint64 {
	return commitlog.FirstPosition(d) + seq
}

type received struct {
	mtx    sync.Mutex
	events []string
	metas  []stream.Meta
}

func (r *received) handle(ctx context.Context, event json.RawMessage, meta stream.Meta) error {
	var v string
	if err := json.Unmarshal(event, &v); err != nil {
		return err
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.events = append(r.events, v)
	r.metas = append(r.metas, meta)
	return nil
}

func (r *received) waitFor(t *testing.T, n int) []string {
	require.Eventually(t, func() bool {
		r.mtx.Lock()
		defer r.mtx.Unlock()
		return len(r.events) >= n
	}, 5*time.Second, 5*time.Millisecond)
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return append([]string(nil), r.events...)
}

func TestLog(t *testing.T) {
	c := clock.NewManual(day)
	l := openLog(t, tempTemplate(t), c)
	ctx := waitCtx(t)

	t.Run("should return the id and file of an added event", func(t *testing.T) {
		p, err := l.Add("a")
		require.NoError(t, err)
		require.Len(t, p.ID, 26)
		require.Equal(t, l.Index().FileForToday(), p.Logfile)
		meta, err := p.Wait(ctx)
		require.NoError(t, err)
		require.Equal(t, position(day, 0), meta.Pos)
		require.Equal(t, uint64(0), meta.PrevPos)
		require.Equal(t, p.ID, meta.ID)
	})
	t.Run("should assign increasing positions", func(t *testing.T) {
		b, err := l.Append(ctx, "b")
		require.NoError(t, err)
		cc, err := l.Append(ctx, "c")
		require.NoError(t, err)
		require.Equal(t, position(day, 1), b.Pos)
		require.Equal(t, position(day, 0), b.PrevPos)
		require.Equal(t, position(day, 2), cc.Pos)
		require.Equal(t, b.Pos, cc.PrevPos)
	})
	t.Run("should replay every event from the start", func(t *testing.T) {
		r := &received{}
		cursor := l.Consume(ctx, r.handle)
		defer cursor.Stop()
		require.Equal(t, []string{"a", "b", "c"}, r.waitFor(t, 3))
	})
	t.Run("should resume from a position", func(t *testing.T) {
		r := &received{}
		cursor := l.Consume(ctx, r.handle, stream.FromPosition(position(day, 1)))
		defer cursor.Stop()
		require.Equal(t, []string{"b", "c"}, r.waitFor(t, 2))
	})
	t.Run("should deliver live events to running consumers", func(t *testing.T) {
		r := &received{}
		cursor := l.Consume(ctx, r.handle, stream.FromPosition(position(day, 3)))
		defer cursor.Stop()
		_, err := l.Append(ctx, "d")
		require.NoError(t, err)
		require.Equal(t, []string{"d"}, r.waitFor(t, 1))
	})
	t.Run("should switch file when the date changes", func(t *testing.T) {
		next := clock.Date{Year: 2020, Month: 1, Day: 6}
		c.Set(next)
		p, err := l.Add("e")
		require.NoError(t, err)
		require.Equal(t, l.Index().Template().Render(next), p.Logfile)
		meta, err := p.Wait(ctx)
		require.NoError(t, err)
		require.Equal(t, position(next, 0), meta.Pos)
		require.Equal(t, position(day, 3), meta.PrevPos)

		r := &received{}
		cursor := l.Consume(ctx, r.handle)
		defer cursor.Stop()
		require.Equal(t, []string{"a", "b", "c", "d", "e"}, r.waitFor(t, 5))
	})
	t.Run("should dump history", func(t *testing.T) {
		buf := bytes.NewBuffer(nil)
		require.NoError(t, l.Dump(ctx, buf, position(day, 2)))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 3)
		var record DumpRecord
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
		require.Equal(t, position(day, 2), record.Pos)
		require.Equal(t, position(day, 1), record.PrevPos)
		require.JSONEq(t, `"c"`, string(record.Event))
	})
	t.Run("should report statistics", func(t *testing.T) {
		stats, err := l.GetStatistics()
		require.NoError(t, err)
		require.Equal(t, uint64(2), stats.FileCount)
		require.True(t, stats.StoredBytes > 0)
	})
	t.Run("should reject events once stopped", func(t *testing.T) {
		l.Stop()
		l.Stop()
		_, err := l.Add("f")
		require.Equal(t, ErrStopped, err)
	})
}

func TestLogResumesExistingFiles(t *testing.T) {
	template := tempTemplate(t)
	c := clock.NewManual(day)
	ctx := waitCtx(t)
	first := openLog(t, template, c)
	_, err := first.Append(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := openLog(t, template, c)
	meta, err := second.Append(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, position(day, 1), meta.Pos)
	require.Equal(t, position(day, 0), meta.PrevPos)
}

func TestLogReadOnly(t *testing.T) {
	template := tempTemplate(t)
	c := clock.NewManual(day)
	l := openLog(t, template, c, ReadOnly())
	require.True(t, l.ReadOnly())

	t.Run("should reject additions", func(t *testing.T) {
		_, err := l.Add("a")
		require.Equal(t, ErrReadOnly, err)
		_, err = l.Append(context.Background(), "a")
		require.Equal(t, ErrReadOnly, err)
	})
	t.Run("should not create any file", func(t *testing.T) {
		files, err := l.Index().FindFiles()
		require.NoError(t, err)
		require.Empty(t, files)
	})
	t.Run("should dump nothing from an empty log", func(t *testing.T) {
		buf := bytes.NewBuffer(nil)
		require.NoError(t, l.Dump(context.Background(), buf, 0))
		require.Equal(t, 0, buf.Len())
	})
	t.Run("should read events written by another instance", func(t *testing.T) {
		writer := openLog(t, template, c)
		r := &received{}
		cursor := l.Consume(waitCtx(t), r.handle)
		defer cursor.Stop()
		_, err := writer.Append(waitCtx(t), "a")
		require.NoError(t, err)
		require.Equal(t, []string{"a"}, r.waitFor(t, 1))
	})
}

func TestLogTemporaryTemplate(t *testing.T) {
	l, err := Open("", WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	dir := filepath.Dir(l.Filename())
	defer os.RemoveAll(dir)
	defer l.Close()
	require.True(t, strings.HasSuffix(l.Filename(), "events-%y-%m-%d.log"))
	meta, err := l.Append(waitCtx(t), map[string]int{"value": 1})
	require.NoError(t, err)
	require.Equal(t, commitlog.FirstPosition(clock.DateOf(time.Now())), meta.Pos)
}

func TestLogInvalidTemplate(t *testing.T) {
	_, err := Open("events-%y-%m.log", WithClock(clock.NewManual(day)))
	require.True(t, errors.Is(err, commitlog.ErrInvalidTemplate))
}

func TestLogWriteError(t *testing.T) {
	c := clock.NewManual(day)
	l := openLog(t, tempTemplate(t), c)
	next := clock.Date{Year: 2020, Month: 1, Day: 6}
	require.NoError(t, os.MkdirAll(l.Index().Template().Render(next), 0750))
	c.Set(next)
	_, err := l.Add("a")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrWrite))
	var writeErr *WriteError
	require.True(t, errors.As(err, &writeErr))
	require.Equal(t, l.Index().Template().Render(next), writeErr.File)
}

func TestLogUnknownEvent(t *testing.T) {
	l := openLog(t, tempTemplate(t), clock.NewManual(day))
	_, err := l.Add(func() {})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrWrite))
}

func TestLogConfirmationFailure(t *testing.T) {
	l := openLog(t, tempTemplate(t), clock.NewManual(day))
	ctx := waitCtx(t)
	_, err := l.Append(ctx, "a")
	require.NoError(t, err)
	p := &Pending{ID: "never-written", done: make(chan struct{})}
	l.writer.mtx.Lock()
	l.writer.pending[p.ID] = p
	l.writer.mtx.Unlock()
	l.writer.cursor.Stop()

	t.Run("should fail pending events", func(t *testing.T) {
		_, err := p.Wait(ctx)
		require.True(t, errors.Is(err, ErrConfirmation))
	})
	t.Run("should reject new events", func(t *testing.T) {
		_, err := l.Add("b")
		require.True(t, errors.Is(err, ErrConfirmation))
	})
}

func TestContextLogger(t *testing.T) {
	require.NotNil(t, L(context.Background()))
	logger := zaptest.NewLogger(t)
	ctx := StoreLogger(context.Background(), logger)
	require.Equal(t, logger, L(ctx))
	ctx = AddFields(ctx, zap.String("component", "test"))
	require.NotEqual(t, logger, L(ctx))
}

func BenchmarkAppend(b *testing.B) {
	dir, err := ioutil.TempDir("", "eventlog-bench")
	require.NoError(b, err)
	defer os.RemoveAll(dir)
	l, err := Open(filepath.Join(dir, "%y%m%d.log"))
	require.NoError(b, err)
	defer l.Close()
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := l.Append(ctx, i); err != nil {
			b.Fatal(err)
		}
	}
}
