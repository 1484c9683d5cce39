package fetch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"server/internal/domain"
)

// SourceImage is a downloaded and decoded section image.
type SourceImage struct {
	Image  image.Image
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// Fetcher downloads section images over HTTP and decodes them. Hosts outside
// the allowlist are rejected before any network call.
type Fetcher struct {
	client    *http.Client
	allowlist map[string]bool
	maxBytes  int64
}

// Options configures a Fetcher. A nil HTTPClient gets a default with the
// provided timeout.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Allowlist  []string
	MaxBytes   int64
}

func New(opts Options) *Fetcher {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	allowlist := make(map[string]bool, len(opts.Allowlist))
	for _, host := range opts.Allowlist {
		host = strings.TrimSpace(host)
		if host != "" {
			allowlist[host] = true
		}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	return &Fetcher{client: client, allowlist: allowlist, maxBytes: maxBytes}
}

// Fetch downloads the image at uri and decodes it.
func (f *Fetcher) Fetch(ctx context.Context, uri string) (*SourceImage, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("fetch: parse uri: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("fetch: unsupported scheme %q", parsed.Scheme)
	}
	if len(f.allowlist) > 0 && !f.allowlist[parsed.Hostname()] {
		return nil, fmt.Errorf("fetch: host %q not in allowlist", parsed.Hostname())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("fetch: status %d for %s: %w", resp.StatusCode, uri, domain.ErrNotFound)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	return Decode(data, resp.Header.Get("Content-Type"))
}

// Decode turns raw bytes into a SourceImage. The MIME hint is used when the
// decoder cannot tell the format apart on its own.
func Decode(data []byte, mimeHint string) (*SourceImage, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("fetch: decode image: %w", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		bounds := img.Bounds()
		cfg.Width, cfg.Height = bounds.Dx(), bounds.Dy()
	}
	mime := mimeFromFormat(format)
	if mime == "" {
		mime = strings.TrimSpace(strings.Split(mimeHint, ";")[0])
	}
	if mime == "" {
		mime = "image/png"
	}
	return &SourceImage{
		Image:  img,
		Data:   data,
		MIME:   mime,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

func mimeFromFormat(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	default:
		return ""
	}
}
