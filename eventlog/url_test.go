package eventlog

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/eventlog/clock"
)

func TestDumpAndLoad(t *testing.T) {
	ctx, cancel := context.WithCancel(waitCtx(t))
	defer cancel()
	source := openLog(t, tempTemplate(t), clock.NewManual(day))
	for _, v := range []string{"a", "b", "c"} {
		_, err := source.Append(ctx, v)
		require.NoError(t, err)
	}
	dir, err := ioutil.TempDir("", "eventlog-dump")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	destination := "file://" + filepath.Join(dir, "backup.jsonl")

	t.Run("should dump to a file url", func(t *testing.T) {
		w, err := OpenURLWriter(ctx, destination)
		require.NoError(t, err)
		require.NoError(t, source.Dump(ctx, w, 0))
		_, err = OpenURLWriter(ctx, destination)
		require.Error(t, err)
	})
	t.Run("should load a dump into another log", func(t *testing.T) {
		target := openLog(t, tempTemplate(t), clock.NewManual(day))
		r, err := OpenURLReader(ctx, destination)
		require.NoError(t, err)
		count, err := target.Load(ctx, r)
		require.NoError(t, err)
		require.Equal(t, 3, count)
		buf := bytes.NewBuffer(nil)
		require.NoError(t, target.Dump(ctx, buf, 0))
		require.Equal(t, 3, bytes.Count(buf.Bytes(), []byte("\n")))
	})
	t.Run("should reject unknown schemes", func(t *testing.T) {
		_, err := OpenURLWriter(ctx, "s3://bucket/key")
		require.True(t, errors.Is(err, ErrUnsupportedURL))
		_, err = OpenURLReader(ctx, "s3://bucket/key")
		require.True(t, errors.Is(err, ErrUnsupportedURL))
	})
}
