package domain

import "context"

// MetadataStore is the driven port for snapshot persistence.
// Add overwrites an existing record with the same key.
type MetadataStore interface {
	Add(ctx context.Context, snap *Snapshot) error
	RemoveForArtifact(ctx context.Context, artifactID int64) error
	RemoveSnapshot(ctx context.Context, artifactID int64, date string) error
	GetAll(ctx context.Context) ([]Snapshot, error)
	GetAllLatestPerArtifact(ctx context.Context) ([]Snapshot, error)
	GetForArtifact(ctx context.Context, artifactID int64) ([]Snapshot, error)
}

// SearchIndex is the driven port for full-text search over captured content.
type SearchIndex interface {
	Add(ctx context.Context, chunks []Chunk) error
	RemoveForArtifact(ctx context.Context, artifactID int64) error
	RemoveForSnapshot(ctx context.Context, artifactID int64, date string) error
	Search(ctx context.Context, text string) ([]Chunk, error)
}

// ProgressFunc receives human-readable progress from a running download.
type ProgressFunc func(message string)

// Downloader is implemented per content type.
type Downloader interface {
	Type() ContentType
	// DownloadData fetches all pages of snap into dir.
	DownloadData(ctx context.Context, snap Snapshot, dir string, progress ProgressFunc) (DownloadResult, error)
	// GeneratePreview renders the first saved page in dir and returns the image path.
	GeneratePreview(ctx context.Context, snap Snapshot, dir string) (string, error)
}

// DestinationKind tags a destination writer variant.
type DestinationKind string

const (
	DestinationLocal DestinationKind = "local"
	DestinationShare DestinationKind = "share"
)

// Destination archives a finished snapshot outside the data directory.
type Destination interface {
	Name() string
	Kind() DestinationKind
	Write(ctx context.Context, snap Snapshot, srcDir string) error
	Read(ctx context.Context, key Key) (*Snapshot, error)
}

// DeviceState reports the gating conditions of the host.
type DeviceState interface {
	IsOnWifi() bool
	IsBatteryAbove(percent int) bool
}

// Notifier surfaces conditions to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
	Dismiss(ctx context.Context, kind NotificationKind)
}
