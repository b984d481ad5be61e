package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cwygoda/snapkeeper/internal/domain"
)

func decodeMessages(t *testing.T, out *bytes.Buffer) []Message {
	t.Helper()
	var msgs []Message
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var m Message
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func TestServe(t *testing.T) {
	d := &fakeDownloader{result: domain.DownloadResult{Pages: 2}, progress: []string{"downloaded 1 page", "downloaded 2 pages"}}
	snap := domain.Snapshot{ArtifactID: 4, Date: "2024-01-01T00-00-00Z", Type: domain.ContentBlog}
	in, _ := json.Marshal(snap)
	var out bytes.Buffer

	if err := Serve(context.Background(), bytes.NewReader(in), &out, fakeDownloaders{domain.ContentBlog: d}, "/data/4"); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	msgs := decodeMessages(t, &out)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Progress != "downloaded 1 page" || msgs[0].Done {
		t.Errorf("first message = %+v", msgs[0])
	}
	last := msgs[2]
	if !last.Done || !last.Success || last.Pages != 2 || last.Path != "/data/4" {
		t.Errorf("done message = %+v", last)
	}
	if last.Key() != snap.Key() {
		t.Errorf("key = %v, want %v", last.Key(), snap.Key())
	}
}

func TestServe_UnknownType(t *testing.T) {
	in := `{"artifact_id":1,"date":"d","type":"video"}`
	var out bytes.Buffer
	if err := Serve(context.Background(), strings.NewReader(in), &out, fakeDownloaders{}, t.TempDir()); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	msgs := decodeMessages(t, &out)
	if len(msgs) != 1 || !msgs[0].Done || msgs[0].Success {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestServe_BadInput(t *testing.T) {
	var out bytes.Buffer
	if err := Serve(context.Background(), strings.NewReader("not json"), &out, fakeDownloaders{}, t.TempDir()); err == nil {
		t.Error("Serve() expected decode error")
	}
}
