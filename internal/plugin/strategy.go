package plugin

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// Source types
const (
	SourceCDN   = "CDN"
	SourceGauzy = "GAUZY"
	SourceLocal = "LOCAL"
)

// Universal matches every OS or architecture
const Universal = "universal"

// Source says where a package comes from
type Source struct {
	Type string `json:"type" yaml:"type"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// PackageConfig describes a plugin package to install
type PackageConfig struct {
	Name          string `json:"name" yaml:"name"`
	Version       string `json:"version" yaml:"version"`
	MarketplaceID string `json:"marketplaceId,omitempty" yaml:"marketplace_id,omitempty"`
	Source        Source `json:"source" yaml:"source"`
	Checksum      string `json:"checksum,omitempty" yaml:"checksum,omitempty"` // sha256 hex
	OS            string `json:"os,omitempty" yaml:"os,omitempty"`
	Arch          string `json:"arch,omitempty" yaml:"arch,omitempty"`
}

// SupportsPlatform reports whether the package runs on goos/goarch.
// Empty values count as universal.
func (c PackageConfig) SupportsPlatform(goos, goarch string) bool {
	match := func(want, have string) bool {
		return want == "" || strings.EqualFold(want, Universal) || strings.EqualFold(want, have)
	}
	return match(c.OS, goos) && match(c.Arch, goarch)
}

func (c PackageConfig) supportsRuntime() bool {
	return c.SupportsPlatform(runtime.GOOS, runtime.GOARCH)
}

// DownloadStrategy fetches the package archive into dir and returns its path
type DownloadStrategy interface {
	Download(ctx context.Context, cfg PackageConfig, dir string) (string, error)
}

// StrategyFor picks the strategy matching a source type
func StrategyFor(sourceType string) DownloadStrategy {
	if strings.EqualFold(sourceType, SourceLocal) {
		return LocalStrategy{}
	}
	return NewCDNStrategy(0)
}

// CDNStrategy downloads over HTTP with colly
type CDNStrategy struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

func NewCDNStrategy(timeout time.Duration) *CDNStrategy {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &CDNStrategy{
		UserAgent:   "tracksync-plugin-installer",
		Timeout:     timeout,
		MaxBodySize: 100 << 20,
	}
}

func (s *CDNStrategy) Download(ctx context.Context, cfg PackageConfig, dir string) (string, error) {
	if cfg.Source.URL == "" {
		return "", fmt.Errorf("%w: no source url", ErrDownloadFailed)
	}
	u, err := url.Parse(cfg.Source.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: invalid source url %q", ErrDownloadFailed, cfg.Source.URL)
	}

	c := colly.NewCollector(
		colly.UserAgent(s.UserAgent),
		colly.MaxBodySize(s.MaxBodySize),
		colly.AllowURLRevisit(),
	)
	timeout := s.Timeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	c.SetRequestTimeout(timeout)

	target := filepath.Join(dir, archiveName(cfg, u))
	var fetchErr error
	c.OnResponse(func(r *colly.Response) {
		if err := r.Save(target); err != nil {
			fetchErr = err
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	if err := c.Visit(u.String()); err != nil && fetchErr == nil {
		fetchErr = err
	}
	if fetchErr == nil {
		fetchErr = ctx.Err()
	}
	if fetchErr != nil {
		os.Remove(target)
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, fetchErr)
	}
	return target, nil
}

func archiveName(cfg PackageConfig, u *url.URL) string {
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = cfg.Name + ".zip"
	}
	return filepath.Base(name)
}

// LocalStrategy copies an archive from the local filesystem
type LocalStrategy struct{}

func (LocalStrategy) Download(ctx context.Context, cfg PackageConfig, dir string) (string, error) {
	if cfg.Source.Path == "" {
		return "", fmt.Errorf("%w: no source path", ErrDownloadFailed)
	}
	src, err := os.Open(cfg.Source.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer src.Close()

	target := filepath.Join(dir, filepath.Base(cfg.Source.Path))
	dst, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(target)
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return target, ctx.Err()
}
