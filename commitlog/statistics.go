package commitlog

import (
	"os"
)

type Statistics struct {
	FileCount   uint64
	StoredBytes uint64
	FirstFile   string
	LastFile    string
}

type FileStatistics struct {
	Name          string
	Date          string
	FirstPosition uint64
	Size          uint64
	ModTime       int64
}

// ListFiles returns size information about every log file, oldest first.
func (i *Index) ListFiles() ([]FileStatistics, error) {
	files, err := i.logFiles()
	if err != nil {
		return nil, err
	}
	out := make([]FileStatistics, 0, len(files))
	for _, file := range files {
		fs := FileStatistics{
			Name:          file.name,
			Date:          file.date.String(),
			FirstPosition: FirstPosition(file.date),
		}
		if info, err := os.Stat(file.name); err == nil {
			fs.Size = uint64(info.Size())
			fs.ModTime = info.ModTime().UnixNano()
		}
		out = append(out, fs)
	}
	return out, nil
}

func (i *Index) GetStatistics() (Statistics, error) {
	files, err := i.ListFiles()
	if err != nil {
		return Statistics{}, err
	}
	stats := Statistics{FileCount: uint64(len(files))}
	for _, file := range files {
		stats.StoredBytes += file.Size
	}
	if len(files) > 0 {
		stats.FirstFile = files[0].Name
		stats.LastFile = files[len(files)-1].Name
	}
	return stats, nil
}
