package checkpoint

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/eventlog/stream"
	"go.uber.org/zap"
)

func TestStore(t *testing.T) {
	datadir, err := ioutil.TempDir("", "checkpoint")
	require.NoError(t, err)
	defer os.RemoveAll(datadir)
	s, err := Open(datadir, zap.NewNop())
	require.NoError(t, err)

	t.Run("should report missing checkpoints", func(t *testing.T) {
		_, ok, err := s.Get("relay")
		require.NoError(t, err)
		require.False(t, ok)
	})
	t.Run("should save and load checkpoints", func(t *testing.T) {
		require.NoError(t, s.Set("relay", 2020010500000003))
		pos, ok, err := s.Get("relay")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(2020010500000003), pos)
	})
	t.Run("should track handled events", func(t *testing.T) {
		h := s.Track("tracked", func(ctx context.Context, event json.RawMessage, meta stream.Meta) error {
			return nil
		})
		require.NoError(t, h(context.Background(), json.RawMessage("1"), stream.Meta{Pos: 41}))
		pos, _, err := s.Get("tracked")
		require.NoError(t, err)
		require.Equal(t, uint64(42), pos)

		failing := s.Track("tracked", func(ctx context.Context, event json.RawMessage, meta stream.Meta) error {
			return errors.New("failed")
		})
		require.Error(t, failing(context.Background(), json.RawMessage("1"), stream.Meta{Pos: 99}))
		pos, _, err = s.Get("tracked")
		require.NoError(t, err)
		require.Equal(t, uint64(42), pos)
	})
	t.Run("should list checkpoints", func(t *testing.T) {
		all, err := s.List()
		require.NoError(t, err)
		require.Equal(t, map[string]uint64{"relay": 2020010500000003, "tracked": 42}, all)
	})
	t.Run("should persist across reopen", func(t *testing.T) {
		require.NoError(t, s.Close())
		s, err = Open(datadir, zap.NewNop())
		require.NoError(t, err)
		pos, ok, err := s.Get("relay")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(2020010500000003), pos)
	})
	t.Run("should delete checkpoints", func(t *testing.T) {
		require.NoError(t, s.Delete("relay"))
		_, ok, err := s.Get("relay")
		require.NoError(t, err)
		require.False(t, ok)
	})
	require.NoError(t, s.Close())
}
