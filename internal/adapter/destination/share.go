package destination

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/gofrs/flock"
)

// ShareLockFile serializes writers sharing one archive root.
const ShareLockFile = ".snapkeeper.lock"

const lockRetry = 100 * time.Millisecond

// Share writes one tar.gz archive per snapshot to root/<artifact>/<date>.tar.gz.
// The root is typically a network mount used by several hosts.
type Share struct {
	name string
	root string
}

func NewShare(name, root string) *Share {
	return &Share{name: name, root: root}
}

func (s *Share) Name() string                 { return s.name }
func (s *Share) Kind() domain.DestinationKind { return domain.DestinationShare }

func (s *Share) archivePath(key domain.Key) string {
	return filepath.Join(artifactPath(s.root, key.ArtifactID), key.Date+".tar.gz")
}

// Write archives srcDir while holding the share lock.
func (s *Share) Write(ctx context.Context, snap domain.Snapshot, srcDir string) error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("create %s: %w", s.root, err)
	}
	lock := flock.New(filepath.Join(s.root, ShareLockFile))
	locked, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("lock share: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock share: not acquired")
	}
	defer lock.Unlock()

	target := s.archivePath(snap.Key())
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+snap.Date+".tmp-*")
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeArchive(ctx, tmp, snap, srcDir); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("move archive into place: %w", err)
	}
	return nil
}

func writeArchive(ctx context.Context, w io.Writer, snap domain.Snapshot, srcDir string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	manifest, err := encodeManifest(snap)
	if err != nil {
		return err
	}
	hdr := &tar.Header{Name: ManifestFile, Mode: 0644, Size: int64(len(manifest)), ModTime: time.Now()}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if _, err := tw.Write(manifest); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	err = walkFiles(srcDir, func(rel, path string, info fs.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("archive snapshot: %w", err)
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// Read returns the snapshot recorded in the archive manifest of key.
func (s *Share) Read(ctx context.Context, key domain.Key) (*domain.Snapshot, error) {
	f, err := os.Open(s.archivePath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s in %s", domain.ErrSnapshotNotFound, key, s.name)
		}
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("%s: no %s in archive", key, ManifestFile)
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		if hdr.Name == ManifestFile {
			return decodeManifest(tr)
		}
	}
}

// Files lists the entry names of the archive of key, manifest included.
func (s *Share) Files(key domain.Key) ([]string, error) {
	f, err := os.Open(s.archivePath(key))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	var names []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		names = append(names, hdr.Name)
	}
}
