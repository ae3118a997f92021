package commitlog

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/vx-labs/eventlog/clock"
)

var (
	ErrInvalidTemplate = errors.New("invalid filename template")
)

var placeholders = []byte{'y', 'm', 'd'}

// Template describes where each placeholder sits in a filename pattern
// like "data/events-%y-%m-%d.log".
type Template struct {
	pattern  string
	order    [3]byte
	literals [4]string
}

func ParseTemplate(pattern string) (Template, error) {
	if pattern == "" {
		return Template{}, errors.Wrap(ErrInvalidTemplate, "template is empty")
	}
	cleaned := filepath.Clean(pattern)
	type placeholder struct {
		idx  int
		name byte
	}
	found := make([]placeholder, 0, 3)
	for _, p := range placeholders {
		token := "%" + string(p)
		if count := strings.Count(cleaned, token); count != 1 {
			return Template{}, errors.Wrapf(ErrInvalidTemplate, "%q must appear exactly once (found %d)", token, count)
		}
		found = append(found, placeholder{idx: strings.Index(cleaned, token), name: p})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].idx < found[j].idx })
	t := Template{pattern: cleaned}
	start := 0
	for i, p := range found {
		t.order[i] = p.name
		t.literals[i] = cleaned[start:p.idx]
		start = p.idx + 2
	}
	t.literals[3] = cleaned[start:]
	return t, nil
}

func (t Template) String() string { return t.pattern }

// Order returns placeholder names ("y", "m", "d") in the order they appear.
func (t Template) Order() []string {
	out := make([]string, len(t.order))
	for i, c := range t.order {
		out[i] = string(c)
	}
	return out
}

// Literals returns the four literal parts surrounding the placeholders.
func (t Template) Literals() []string {
	return append([]string(nil), t.literals[:]...)
}

// BaseDir is the deepest directory which does not depend on the date.
func (t Template) BaseDir() string {
	return filepath.Dir(t.literals[0] + "x")
}

func width(placeholder byte) int {
	if placeholder == 'y' {
		return 4
	}
	return 2
}

func (t Template) Render(d clock.Date) string {
	var b strings.Builder
	for i, p := range t.order {
		b.WriteString(t.literals[i])
		switch p {
		case 'y':
			fmt.Fprintf(&b, "%04d", d.Year)
		case 'm':
			fmt.Fprintf(&b, "%02d", d.Month)
		case 'd':
			fmt.Fprintf(&b, "%02d", d.Day)
		}
	}
	b.WriteString(t.literals[3])
	return b.String()
}

// Match extracts the raw year, month and day fields of a rendered filename.
func (t Template) Match(name string) (year, month, day string, ok bool) {
	if len(name) != len(t.pattern)+2 {
		return "", "", "", false
	}
	offset := 0
	for i := 0; i < 4; i++ {
		lit := t.literals[i]
		if name[offset:offset+len(lit)] != lit {
			return "", "", "", false
		}
		offset += len(lit)
		if i == 3 {
			break
		}
		w := width(t.order[i])
		field := name[offset : offset+w]
		switch t.order[i] {
		case 'y':
			year = field
		case 'm':
			month = field
		case 'd':
			day = field
		}
		offset += w
	}
	return year, month, day, true
}
