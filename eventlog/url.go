package eventlog

import (
	"context"
	"io"
	"net/url"
	"os"

	"github.com/pkg/errors"
)

type URLWriter func(ctx context.Context, url *url.URL) (io.Writer, error)
type URLReader func(ctx context.Context, url *url.URL) (io.Reader, error)

var (
	ErrUnsupportedURL = errors.New("unsupported url scheme")
)

// FileURLWriter creates the file designated by a file:// URL. The file is
// closed when ctx is done.
func FileURLWriter() URLWriter {
	return func(ctx context.Context, url *url.URL) (io.Writer, error) {
		filename := url.Path
		_, err := os.Stat(filename)
		if err == nil {
			return nil, errors.New("file exists")
		}
		fd, err := os.Create(filename)
		if err != nil {
			return nil, err
		}
		go func() {
			<-ctx.Done()
			fd.Close()
		}()
		return fd, nil
	}
}

func FileURLReader() URLReader {
	return func(ctx context.Context, url *url.URL) (io.Reader, error) {
		fd, err := os.Open(url.Path)
		if err != nil {
			return nil, err
		}
		go func() {
			<-ctx.Done()
			fd.Close()
		}()
		return fd, nil
	}
}

func OpenURLWriter(ctx context.Context, rawURL string) (io.Writer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse destination url")
	}
	switch u.Scheme {
	case "file":
		return FileURLWriter()(ctx, u)
	default:
		return nil, errors.Wrap(ErrUnsupportedURL, u.Scheme)
	}
}

func OpenURLReader(ctx context.Context, rawURL string) (io.Reader, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse source url")
	}
	switch u.Scheme {
	case "file":
		return FileURLReader()(ctx, u)
	default:
		return nil, errors.Wrap(ErrUnsupportedURL, u.Scheme)
	}
}
