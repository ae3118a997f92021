package commitlog

import (
	"encoding/json"

	"github.com/pkg/errors"
)

var (
	ErrMalformedRecord = errors.New("malformed log record")
)

// Record is the on-disk form of one event: a single JSON line.
type Record struct {
	Event json.RawMessage            `json:"event"`
	Meta  map[string]json.RawMessage `json:"meta"`
}

type recordMeta struct {
	ID string `json:"id"`
}

type outgoingRecord struct {
	Event interface{} `json:"event"`
	Meta  recordMeta  `json:"meta"`
}

// EncodeRecord returns the newline terminated line storing event under id.
func EncodeRecord(event interface{}, id string) ([]byte, error) {
	buf, err := json.Marshal(outgoingRecord{Event: event, Meta: recordMeta{ID: id}})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode event")
	}
	return append(buf, '\n'), nil
}

// DecodeRecord parses one line. Lines which are not JSON objects or carry
// no meta.id are rejected with ErrMalformedRecord.
func DecodeRecord(line []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return Record{}, errors.Wrap(ErrMalformedRecord, err.Error())
	}
	if r.ID() == "" {
		return Record{}, errors.Wrap(ErrMalformedRecord, "missing meta.id")
	}
	if len(r.Event) == 0 {
		r.Event = json.RawMessage("null")
	}
	return r, nil
}

func (r Record) ID() string {
	raw, ok := r.Meta["id"]
	if !ok {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return ""
	}
	return id
}
