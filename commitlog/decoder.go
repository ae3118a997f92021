package commitlog

import (
	"bytes"
)

// Decoder splits a byte stream into newline terminated lines. Bytes after
// the last newline are kept until the next Feed call.
type Decoder struct {
	pending []byte
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed calls fn for each complete line found in data, without the trailing
// newline. The line slice is only valid during the call.
func (d *Decoder) Feed(data []byte, fn func(line []byte) error) error {
	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			d.pending = append(d.pending, data...)
			return nil
		}
		line := data[:idx]
		if len(d.pending) > 0 {
			d.pending = append(d.pending, line...)
			line = d.pending
		}
		data = data[idx+1:]
		err := fn(line)
		d.pending = d.pending[:0]
		if err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the number of buffered bytes of an incomplete line.
func (d *Decoder) Pending() int {
	return len(d.pending)
}
