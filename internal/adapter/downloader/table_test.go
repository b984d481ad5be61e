package downloader

import (
	"context"
	"errors"
	"testing"

	"github.com/cwygoda/snapkeeper/internal/domain"
)

type mockDownloader struct {
	ct   domain.ContentType
	name string
}

func (m *mockDownloader) Type() domain.ContentType { return m.ct }
func (m *mockDownloader) DownloadData(ctx context.Context, snap domain.Snapshot, dir string, progress domain.ProgressFunc) (domain.DownloadResult, error) {
	return domain.DownloadResult{}, nil
}
func (m *mockDownloader) GeneratePreview(ctx context.Context, snap domain.Snapshot, dir string) (string, error) {
	return "", nil
}

func TestTable_Get(t *testing.T) {
	blog := &mockDownloader{ct: domain.ContentBlog, name: "blog"}
	feed := &mockDownloader{ct: "feed", name: "feed"}
	table := NewTable(blog, feed)

	tests := []struct {
		ct       domain.ContentType
		wantName string
	}{
		{domain.ContentBlog, "blog"},
		{"feed", "feed"},
	}
	for _, tt := range tests {
		t.Run(string(tt.ct), func(t *testing.T) {
			d, err := table.Get(tt.ct)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if d.(*mockDownloader).name != tt.wantName {
				t.Errorf("Get() = %q, want %q", d.(*mockDownloader).name, tt.wantName)
			}
		})
	}
}

func TestTable_Unknown(t *testing.T) {
	table := NewTable()
	if _, err := table.Get("video"); !errors.Is(err, domain.ErrUnknownContentType) {
		t.Errorf("Get() error = %v, want ErrUnknownContentType", err)
	}
}

func TestTable_RegisterReplaces(t *testing.T) {
	table := NewTable(&mockDownloader{ct: domain.ContentBlog, name: "old"})
	table.Register(&mockDownloader{ct: domain.ContentBlog, name: "new"})

	d, _ := table.Get(domain.ContentBlog)
	if d.(*mockDownloader).name != "new" {
		t.Errorf("Get() = %q, want replaced downloader", d.(*mockDownloader).name)
	}
	types := table.Types()
	if len(types) != 1 || types[0] != domain.ContentBlog {
		t.Errorf("Types() = %v", types)
	}
}
