package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/sirupsen/logrus"
)

// DefaultMaxPages caps a traversal when the snapshot does not set max_pages.
const DefaultMaxPages = 50

// PageSource fetches raw page bodies.
type PageSource interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Crawl is the primitive shared by pagination strategies: fetch a page,
// extract its links, persist it, report progress.
type Crawl struct {
	Source      PageSource
	Dir         string
	MaxPages    int
	NextPattern *regexp.Regexp
	Progress    domain.ProgressFunc
	Logger      logrus.FieldLogger

	saved []string
}

// Fetch retrieves and parses the page at url.
func (c *Crawl) Fetch(ctx context.Context, url string, index int) (*Page, error) {
	body, err := c.Source.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	page, err := parsePage(url, body, c.NextPattern)
	if err != nil {
		return nil, err
	}
	page.Index = index
	return page, nil
}

// Persist writes page as the next saved page and reports the page count.
func (c *Crawl) Persist(page *Page) error {
	name := pageFileName(len(c.saved))
	path := filepath.Join(c.Dir, name)
	if err := os.WriteFile(path, page.Body, 0644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	c.saved = append(c.saved, path)
	c.logger().WithFields(logrus.Fields{"page": page.Index, "url": page.URL}).Debug("download: page saved")
	if c.Progress != nil {
		c.Progress(progressMessage(len(c.saved)))
	}
	return nil
}

// Saved returns the number of pages persisted so far.
func (c *Crawl) Saved() int {
	return len(c.saved)
}

func (c *Crawl) maxPages() int {
	if c.MaxPages <= 0 {
		return DefaultMaxPages
	}
	return c.MaxPages
}

func (c *Crawl) logger() logrus.FieldLogger {
	if c.Logger == nil {
		return logrus.StandardLogger()
	}
	return c.Logger
}

func pageFileName(i int) string {
	return fmt.Sprintf("page-%04d.html", i)
}

func progressMessage(pages int) string {
	if pages == 1 {
		return "downloaded 1 page"
	}
	return fmt.Sprintf("downloaded %d pages", pages)
}
