package commitlog

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/vx-labs/eventlog/clock"
	"go.uber.org/zap"
)

var (
	ErrUnknownFile = errors.New("file does not match the log template")
)

// Index maps calendar dates to log files following a filename template.
type Index struct {
	template Template
	clock    clock.Clock
	logger   *zap.Logger
}

type logFile struct {
	name string
	date clock.Date
}

type indexOpts func(*Index)

func WithLogger(l *zap.Logger) indexOpts {
	return func(i *Index) { i.logger = l }
}

func NewIndex(pattern string, c clock.Clock, opts ...indexOpts) (*Index, error) {
	t, err := ParseTemplate(pattern)
	if err != nil {
		return nil, err
	}
	i := &Index{template: t, clock: c, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

func (i *Index) Template() Template { return i.template }
func (i *Index) Clock() clock.Clock { return i.clock }

func (i *Index) FileForDate(year, month, day int) (string, error) {
	d, err := ValidateDate(year, month, day, i.clock.Today())
	if err != nil {
		return "", err
	}
	return i.template.Render(d), nil
}

func (i *Index) FileForToday() string {
	return i.template.Render(i.clock.Today())
}

// DateOfFile returns the date encoded in name, if name follows the template
// and holds a valid, non future date.
func (i *Index) DateOfFile(name string) (clock.Date, bool) {
	y, m, d, ok := i.template.Match(name)
	if !ok {
		return clock.Date{}, false
	}
	date, err := ParseDate(y, m, d, i.clock.Today())
	if err != nil {
		return clock.Date{}, false
	}
	return date, true
}

func (i *Index) FirstPositionOfFile(name string) (uint64, bool) {
	d, ok := i.DateOfFile(name)
	if !ok {
		return 0, false
	}
	return FirstPosition(d), true
}

func (i *Index) logFiles() ([]logFile, error) {
	out := make([]logFile, 0)
	base := i.template.BaseDir()
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == base && os.IsNotExist(err) {
				return nil
			}
			i.logger.Debug("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if d, ok := i.DateOfFile(path); ok {
			out = append(out, logFile{name: path, date: d})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan log directory")
	}
	sort.Slice(out, func(a, b int) bool { return out[a].date.Before(out[b].date) })
	return out, nil
}

// FindFiles returns every existing log file, oldest first.
func (i *Index) FindFiles() ([]string, error) {
	files, err := i.logFiles()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(files))
	for idx := range files {
		out[idx] = files[idx].name
	}
	return out, nil
}

func lookupDate(files []logFile, d clock.Date) int {
	return sort.Search(len(files), func(idx int) bool {
		return !files[idx].date.Before(d)
	})
}

// FileByPosition returns the file holding pos, or the first file written
// after it.
func (i *Index) FileByPosition(pos uint64) (string, bool, error) {
	files, err := i.logFiles()
	if err != nil {
		return "", false, err
	}
	idx := lookupDate(files, DateOfPosition(pos))
	if idx == len(files) {
		return "", false, nil
	}
	return files[idx].name, true, nil
}

// NextExistingFile returns the first file dated strictly after the given one.
func (i *Index) NextExistingFile(after string) (string, bool, error) {
	d, ok := i.DateOfFile(after)
	if !ok {
		return "", false, errors.Wrap(ErrUnknownFile, after)
	}
	files, err := i.logFiles()
	if err != nil {
		return "", false, err
	}
	idx := lookupDate(files, d)
	for idx < len(files) && files[idx].date == d {
		idx++
	}
	if idx == len(files) {
		return "", false, nil
	}
	return files[idx].name, true, nil
}

// Touch creates filename and its parent directories when missing.
func Touch(filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(err, "failed to create log directory")
	}
	fd, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return errors.Wrap(err, "failed to create log file")
	}
	return fd.Close()
}
