package download

import (
	"regexp"
	"testing"
)

func TestParsePage_NextLink(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"rel next", `<a href="/a">a</a><a rel="next" href="/p/2">2</a>`, "http://blog/p/2"},
		{"link element", `<head><link rel="next" href="/p/2"></head><body>x</body>`, "http://blog/p/2"},
		{"class", `<a class="btn next" href="?page=2">go</a>`, "http://blog/p/1?page=2"},
		{"text", `<a href="/older">Older posts »</a>`, "http://blog/older"},
		{"none", `<a href="/about">About</a>`, ""},
		{"self", `<a rel="next" href="/p/1">1</a>`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := parsePage("http://blog/p/1", []byte(tt.body), nil)
			if err != nil {
				t.Fatalf("parsePage() error = %v", err)
			}
			if p.Next != tt.want {
				t.Errorf("Next = %q, want %q", p.Next, tt.want)
			}
		})
	}
}

func TestParsePage_CustomPattern(t *testing.T) {
	p, err := parsePage("http://blog/", []byte(`<a href="/weiter">Weiter</a>`), regexp.MustCompile(`(?i)weiter`))
	if err != nil {
		t.Fatalf("parsePage() error = %v", err)
	}
	if p.Next != "http://blog/weiter" {
		t.Errorf("Next = %q", p.Next)
	}
}

func TestParsePage_Text(t *testing.T) {
	body := `<html><head><title>T</title><style>p{}</style></head>
<body><h1>Hello</h1>  <p>big   world</p><script>var x</script></body></html>`
	p, err := parsePage("http://blog/", []byte(body), nil)
	if err != nil {
		t.Fatalf("parsePage() error = %v", err)
	}
	if p.Text != "Hello big world" {
		t.Errorf("Text = %q, want %q", p.Text, "Hello big world")
	}
	q, _ := parsePage("http://blog/other", []byte(body), nil)
	if p.Hash != q.Hash {
		t.Error("same text should hash equally")
	}
}
