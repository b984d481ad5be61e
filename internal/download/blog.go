package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/sirupsen/logrus"
)

// Blog parameters, stored opaquely in domain.Snapshot.Params.
const (
	ParamURL         = "url"
	ParamPageURL     = "page_url"
	ParamFirstPage   = "first_page"
	ParamMaxPages    = "max_pages"
	ParamNextPattern = "next_pattern"
)

// PreviewFile is the name of the rendered preview inside a snapshot directory.
const PreviewFile = "preview.png"

// ErrNoPages is returned when a preview is requested for a capture without pages.
var ErrNoPages = errors.New("no saved pages")

// Renderer turns a page address into a PNG image at out.
type Renderer interface {
	Screenshot(ctx context.Context, url, out string) error
}

// Blog downloads paginated blogs.
type Blog struct {
	source   PageSource
	renderer Renderer
	logger   logrus.FieldLogger
}

// NewBlog creates a blog downloader. renderer may be nil, disabling previews.
func NewBlog(source PageSource, renderer Renderer, logger logrus.FieldLogger) *Blog {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Blog{source: source, renderer: renderer, logger: logger}
}

// Type returns the content type served by this downloader.
func (b *Blog) Type() domain.ContentType {
	return domain.ContentBlog
}

type blogParams struct {
	start       string
	pageURL     string
	firstPage   int
	maxPages    int
	nextPattern *regexp.Regexp
}

func parseBlogParams(p map[string]string) (blogParams, error) {
	bp := blogParams{start: p[ParamURL], pageURL: p[ParamPageURL], maxPages: DefaultMaxPages}
	if bp.start == "" {
		return bp, fmt.Errorf("%s is required", ParamURL)
	}
	if v := p[ParamFirstPage]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return bp, fmt.Errorf("%s: %w", ParamFirstPage, err)
		}
		bp.firstPage = n
	}
	if v := p[ParamMaxPages]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return bp, fmt.Errorf("%s must be a positive integer", ParamMaxPages)
		}
		bp.maxPages = n
	}
	if v := p[ParamNextPattern]; v != "" {
		re, err := regexp.Compile(v)
		if err != nil {
			return bp, fmt.Errorf("%s: %w", ParamNextPattern, err)
		}
		bp.nextPattern = re
	}
	return bp, nil
}

// DownloadData fetches every page of the blog into dir, replacing previous contents.
func (b *Blog) DownloadData(ctx context.Context, snap domain.Snapshot, dir string, progress domain.ProgressFunc) (domain.DownloadResult, error) {
	res := domain.DownloadResult{Path: dir}
	params, err := parseBlogParams(snap.Params)
	if err != nil {
		return res, &domain.DownloadError{Err: err}
	}

	if err := os.RemoveAll(dir); err != nil {
		return res, &domain.DownloadError{Err: err}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return res, &domain.DownloadError{Err: err}
	}

	log := b.logger.WithFields(logrus.Fields{"artifact_id": snap.ArtifactID, "date": snap.Date})
	crawl := &Crawl{
		Source:      b.source,
		Dir:         dir,
		MaxPages:    params.maxPages,
		NextPattern: params.nextPattern,
		Progress:    progress,
		Logger:      log,
	}
	linked := &Linked{Start: params.start}
	indexed := &Indexed{Start: params.start, Template: params.pageURL, FirstPage: params.firstPage}

	out, err := Paginate(ctx, crawl, linked, indexed)
	res.Pages = out.Pages
	res.Partial = out.Partial
	if err != nil {
		return res, err
	}
	log.WithFields(logrus.Fields{"strategy": out.Strategy, "pages": out.Pages}).Info("download: finished")
	return res, nil
}

// GeneratePreview renders the first saved page into dir/preview.png.
func (b *Blog) GeneratePreview(ctx context.Context, snap domain.Snapshot, dir string) (string, error) {
	first := filepath.Join(dir, pageFileName(0))
	if _, err := os.Stat(first); err != nil {
		return "", ErrNoPages
	}
	if b.renderer == nil {
		return "", nil
	}
	abs, err := filepath.Abs(first)
	if err != nil {
		return "", err
	}
	out := filepath.Join(dir, PreviewFile)
	if err := b.renderer.Screenshot(ctx, "file://"+abs, out); err != nil {
		return "", fmt.Errorf("render preview: %w", err)
	}
	return out, nil
}
