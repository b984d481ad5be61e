package download

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

// MaxChunkLen bounds the text of one search chunk.
const MaxChunkLen = 1000

var sanitizer = bluemonday.UGCPolicy()

// Chunks converts the saved pages of a snapshot into search chunks.
func Chunks(dir string, key domain.Key) ([]domain.Chunk, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "page-*.html"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var chunks []domain.Chunk
	for page, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		md, err := htmltomarkdown.ConvertString(sanitizer.Sanitize(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", filepath.Base(path), err)
		}
		for _, text := range splitChunks(md, MaxChunkLen) {
			chunks = append(chunks, domain.Chunk{
				ID:         uuid.NewString(),
				ArtifactID: key.ArtifactID,
				Date:       key.Date,
				Page:       page,
				Text:       text,
			})
		}
	}
	return chunks, nil
}

// splitChunks groups markdown paragraphs into chunks of at most max bytes.
// A single paragraph longer than max is cut at word boundaries.
func splitChunks(md string, max int) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for _, para := range strings.Split(md, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for len(para) > max {
			cut := strings.LastIndexByte(para[:max], ' ')
			if cut <= 0 {
				cut = max
			}
			flush()
			out = append(out, strings.TrimSpace(para[:cut]))
			para = strings.TrimSpace(para[cut:])
		}
		if cur.Len() > 0 && cur.Len()+len(para)+2 > max {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return out
}
