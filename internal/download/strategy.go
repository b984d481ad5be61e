package download

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/sirupsen/logrus"
)

// Outcome summarizes a traversal.
type Outcome struct {
	Strategy string
	Pages    int
	// Partial is set when the page cap stopped a traversal that had more pages.
	Partial bool
}

// Strategy is a page-traversal algorithm over a Crawl.
type Strategy interface {
	Name() string
	Traverse(ctx context.Context, c *Crawl) (Outcome, error)
}

// Linked follows the next-page link chain starting at Start.
type Linked struct {
	Start string
}

func (l *Linked) Name() string { return "linked" }

// Traverse returns domain.ErrNoLinkedPattern, having saved nothing, when the
// first page carries no next link.
func (l *Linked) Traverse(ctx context.Context, c *Crawl) (Outcome, error) {
	out := Outcome{Strategy: l.Name()}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	page, err := c.Fetch(ctx, l.Start, 0)
	if err != nil {
		return out, err
	}
	if page.Next == "" {
		return out, domain.ErrNoLinkedPattern
	}

	seen := map[string]bool{page.URL: true}
	for {
		if err := c.Persist(page); err != nil {
			return out, &domain.DownloadError{Page: page.Index, Err: err}
		}
		out.Pages++

		next := page.Next
		if next == "" || seen[next] {
			return out, nil
		}
		if out.Pages >= c.maxPages() {
			out.Partial = true
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		seen[next] = true

		page, err = c.Fetch(ctx, next, out.Pages)
		if err != nil {
			return out, &domain.DownloadError{Page: out.Pages, Err: err}
		}
	}
}

// Indexed iterates page indices 0..MaxPages-1. The page URL is Template with
// "{page}" replaced by FirstPage+index, or Start with a "page" query parameter.
type Indexed struct {
	Start     string
	Template  string
	FirstPage int
}

func (ix *Indexed) Name() string { return "indexed" }

// URL returns the address of the zero-based page index i.
func (ix *Indexed) URL(i int) string {
	n := strconv.Itoa(ix.FirstPage + i)
	if ix.Template != "" {
		return strings.ReplaceAll(ix.Template, "{page}", n)
	}
	u, err := url.Parse(ix.Start)
	if err != nil {
		return ix.Start
	}
	q := u.Query()
	q.Set("page", n)
	u.RawQuery = q.Encode()
	return u.String()
}

// Traverse stops at the first fetch failure, at a page without text, or at a
// page repeating the previous one. Neither counts as an error.
func (ix *Indexed) Traverse(ctx context.Context, c *Crawl) (Outcome, error) {
	out := Outcome{Strategy: ix.Name()}
	prevHash := ""
	for i := 0; i < c.maxPages(); i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		page, err := c.Fetch(ctx, ix.URL(i), i)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ctxErr
			}
			c.logger().WithError(err).WithField("page", i).Debug("download: indexed traversal ended")
			return out, nil
		}
		if page.Text == "" || page.Hash == prevHash {
			return out, nil
		}
		if err := c.Persist(page); err != nil {
			return out, &domain.DownloadError{Page: i, Err: err}
		}
		out.Pages++
		prevHash = page.Hash
	}
	return out, nil
}

// Paginate runs primary, falling back to secondary on the same crawl when
// primary traversed zero pages without a capture-fatal error.
func Paginate(ctx context.Context, c *Crawl, primary, secondary Strategy) (Outcome, error) {
	out, err := primary.Traverse(ctx, c)
	if out.Pages > 0 || fatal(ctx, err) {
		return out, err
	}
	c.logger().WithFields(logrus.Fields{
		"from":   primary.Name(),
		"to":     secondary.Name(),
		"reason": errString(err),
	}).Info("download: falling back")
	return secondary.Traverse(ctx, c)
}

func fatal(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil {
		return true
	}
	var de *domain.DownloadError
	return errors.As(err, &de)
}

func errString(err error) string {
	if err == nil {
		return "zero pages"
	}
	return err.Error()
}
