package destination

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cwygoda/snapkeeper/internal/domain"
)

// Local copies snapshot directories under root/<artifact>/<date>/.
type Local struct {
	name string
	root string
}

func NewLocal(name, root string) *Local {
	return &Local{name: name, root: root}
}

func (l *Local) Name() string                 { return l.name }
func (l *Local) Kind() domain.DestinationKind { return domain.DestinationLocal }

// Write copies srcDir into a staging directory and renames it into place,
// replacing an earlier copy of the same key.
func (l *Local) Write(ctx context.Context, snap domain.Snapshot, srcDir string) error {
	parent := artifactPath(l.root, snap.ArtifactID)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("create %s: %w", parent, err)
	}
	staging, err := os.MkdirTemp(parent, "."+snap.Date+".tmp-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	err = walkFiles(srcDir, func(rel, path string, info fs.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := filepath.Join(staging, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		return copyFile(path, dst)
	})
	if err != nil {
		return fmt.Errorf("copy snapshot: %w", err)
	}

	manifest, err := encodeManifest(snap)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(staging, ManifestFile), manifest, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	target := filepath.Join(parent, snap.Date)
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("replace %s: %w", target, err)
	}
	if err := os.Rename(staging, target); err != nil {
		return fmt.Errorf("move into place: %w", err)
	}
	return nil
}

// Read returns the snapshot recorded in the manifest of key.
func (l *Local) Read(ctx context.Context, key domain.Key) (*domain.Snapshot, error) {
	f, err := os.Open(filepath.Join(artifactPath(l.root, key.ArtifactID), key.Date, ManifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s in %s", domain.ErrSnapshotNotFound, key, l.name)
		}
		return nil, err
	}
	defer f.Close()
	return decodeManifest(f)
}
