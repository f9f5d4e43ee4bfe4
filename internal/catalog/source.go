package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/httpclient"
)

// Getter issues GET requests. *httpclient.Breaker satisfies it.
type Getter = httpclient.Getter

// RemoteSource fetches a JSON catalog over HTTP.
type RemoteSource struct {
	client Getter
	url    string
	logger *slog.Logger
}

// NewRemoteSource creates a source reading from rawURL.
func NewRemoteSource(client Getter, rawURL string, logger *slog.Logger) *RemoteSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteSource{client: client, url: rawURL, logger: logger}
}

// Fetch downloads and validates the catalog.
func (s *RemoteSource) Fetch(ctx context.Context) (*Catalog, error) {
	resp, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog from %s: %w", redact(s.url), err)
	}

	var categories []domain.Category
	if err := httpclient.DecodeJSON(resp, &categories, "catalog"); err != nil {
		return nil, err
	}

	c, err := New(categories)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "remote catalog loaded",
		slog.String("url", redact(s.url)),
		slog.Int("entries", c.Len()),
	)
	return c, nil
}

// Options selects where Load reads the catalog from. URL wins over Path;
// with neither set the embedded catalog is used.
type Options struct {
	URL    string
	Path   string
	Client Getter
	Logger *slog.Logger
}

// Load resolves the configured source and returns a validated catalog.
func Load(ctx context.Context, opts Options) (*Catalog, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch {
	case opts.URL != "":
		if opts.Client == nil {
			return nil, fmt.Errorf("catalog url set without an http client")
		}
		return NewRemoteSource(opts.Client, opts.URL, logger).Fetch(ctx)
	case opts.Path != "":
		c, err := LoadFile(opts.Path)
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "catalog file loaded",
			slog.String("path", opts.Path),
			slog.Int("entries", c.Len()),
		)
		return c, nil
	default:
		c, err := LoadDefault()
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "embedded catalog loaded", slog.Int("entries", c.Len()))
		return c, nil
	}
}

// redact strips credentials and query strings before a URL is logged.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
