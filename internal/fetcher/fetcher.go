// Package fetcher opens cell datasets and region files from local paths,
// HTTP(S) or FTP.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a remote location.
type Fetcher interface {
	// Download returns the body at rawURL. The caller closes it.
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Options configures the remote fetchers used by Open.
type Options struct {
	HTTP HTTPOptions
	FTP  FTPOptions
}

// Opener resolves a location to a reader by scheme.
type Opener struct {
	http Fetcher
	ftp  Fetcher
}

// NewOpener creates an Opener.
func NewOpener(opts Options) *Opener {
	return &Opener{
		http: NewHTTPFetcher(opts.HTTP),
		ftp:  NewFTPFetcher(opts.FTP),
	}
}

// Open returns a reader for location: a local path, file://, http(s):// or
// ftp:// URL. The caller closes it.
func (o *Opener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if location == "" {
		return nil, eris.New("fetcher: empty location")
	}
	switch scheme(location) {
	case "":
		f, err := os.Open(location)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: open %s", location)
		}
		return f, nil
	case "file":
		u, err := url.Parse(location)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: parse %s", location)
		}
		f, err := os.Open(u.Path)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: open %s", u.Path)
		}
		return f, nil
	case "http", "https":
		return o.http.Download(ctx, location)
	case "ftp":
		return o.ftp.Download(ctx, location)
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme in %q", location)
	}
}

// Ext returns the lowercase file extension of a path or URL, e.g. ".csv".
func Ext(location string) string {
	p := location
	if scheme(location) != "" {
		if u, err := url.Parse(location); err == nil {
			p = u.Path
		}
	}
	return strings.ToLower(path.Ext(p))
}

// scheme returns the lowercase URL scheme, or "" for plain paths. Windows
// drive letters are not treated as schemes.
func scheme(location string) string {
	i := strings.Index(location, "://")
	if i <= 1 {
		return ""
	}
	return strings.ToLower(location[:i])
}
