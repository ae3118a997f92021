package checkpoint

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"
	"github.com/vx-labs/eventlog/stream"
	"go.uber.org/zap"
)

var keyPrefix = []byte("consumer/")

// Store persists, for each named consumer, the position it should resume from.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

type badgerLogger struct {
	l *zap.SugaredLogger
}

func (b badgerLogger) Errorf(f string, v ...interface{})   { b.l.Errorf(f, v...) }
func (b badgerLogger) Warningf(f string, v ...interface{}) { b.l.Warnf(f, v...) }
func (b badgerLogger) Infof(f string, v ...interface{})    { b.l.Debugf(f, v...) }
func (b badgerLogger) Debugf(f string, v ...interface{})   { b.l.Debugf(f, v...) }

func Open(datadir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := badger.DefaultOptions(datadir).
		WithLogger(badgerLogger{l: logger.Sugar()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint store")
	}
	return &Store{db: db, logger: logger}, nil
}

func key(name string) []byte {
	return append(append([]byte(nil), keyPrefix...), name...)
}

func encode(pos uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, pos)
	return buf
}

func decode(buf []byte) (uint64, error) {
	if len(buf) != 8 {
		return 0, errors.New("invalid checkpoint value")
	}
	return binary.BigEndian.Uint64(buf), nil
}

// Get returns the saved position of name, and false if none was saved.
func (s *Store) Get(name string) (uint64, bool, error) {
	var pos uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(name))
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		pos, err = decode(value)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "failed to read checkpoint %q", name)
	}
	return pos, true, nil
}

func (s *Store) Set(name string, pos uint64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(name), encode(pos))
	})
	return errors.Wrapf(err, "failed to save checkpoint %q", name)
}

func (s *Store) Delete(name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(name))
	})
	return errors.Wrapf(err, "failed to delete checkpoint %q", name)
}

// List returns every saved checkpoint.
func (s *Store) List() (map[string]uint64, error) {
	out := make(map[string]uint64)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			pos, err := decode(value)
			if err != nil {
				return err
			}
			out[string(item.Key()[len(keyPrefix):])] = pos
		}
		return nil
	})
	return out, errors.Wrap(err, "failed to list checkpoints")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Track wraps handler so that, once it succeeds, the position following the
// event is saved under name.
func (s *Store) Track(name string, handler stream.Handler) stream.Handler {
	return func(ctx context.Context, event json.RawMessage, meta stream.Meta) error {
		if err := handler(ctx, event, meta); err != nil {
			return err
		}
		if err := s.Set(name, meta.Pos+1); err != nil {
			s.logger.Warn("failed to save checkpoint", zap.String("consumer_name", name), zap.Error(err))
			return err
		}
		return nil
	}
}

// Resume returns a consumer option starting at the saved position of name.
func (s *Store) Resume(name string) (stream.ConsumerOpt, error) {
	pos, _, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	return stream.FromPosition(pos), nil
}
