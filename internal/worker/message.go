package worker

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/cwygoda/snapkeeper/internal/domain"
)

// Message is one line of the download progress channel.
// A line either carries Progress or has Done set with the final result.
type Message struct {
	ArtifactID int64  `json:"artifact_id"`
	Date       string `json:"date"`
	Progress   string `json:"progress,omitempty"`
	Done       bool   `json:"done,omitempty"`
	Success    bool   `json:"success,omitempty"`
	Partial    bool   `json:"partial,omitempty"`
	Pages      int    `json:"pages,omitempty"`
	Message    string `json:"message,omitempty"`
	Path       string `json:"path,omitempty"`
}

// Key returns the snapshot key the message belongs to.
func (m Message) Key() domain.Key {
	return domain.Key{ArtifactID: m.ArtifactID, Date: m.Date}
}

// Result returns the final result carried by a done message.
func (m Message) Result() Result {
	return Result{
		Success: m.Success,
		Partial: m.Partial,
		Pages:   m.Pages,
		Message: m.Message,
		Path:    m.Path,
	}
}

// DoneMessage builds the terminal message for key.
func DoneMessage(key domain.Key, r Result) Message {
	return Message{
		ArtifactID: key.ArtifactID,
		Date:       key.Date,
		Done:       true,
		Success:    r.Success,
		Partial:    r.Partial,
		Pages:      r.Pages,
		Message:    r.Message,
		Path:       r.Path,
	}
}

// Writer serializes messages as JSON lines. Safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

func (w *Writer) Write(m Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(m)
}
