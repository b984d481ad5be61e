// Package destination archives finished snapshots outside the data
// directory. Each destination kind implements domain.Destination; Set
// dispatches by configured name.
package destination

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cwygoda/snapkeeper/internal/domain"
	"gopkg.in/yaml.v3"
)

// ManifestFile describes the archived snapshot next to its pages.
const ManifestFile = "manifest.yaml"

func encodeManifest(snap domain.Snapshot) ([]byte, error) {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return data, nil
}

func decodeManifest(r io.Reader) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := yaml.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &snap, nil
}

func artifactPath(root string, id int64) string {
	return filepath.Join(root, strconv.FormatInt(id, 10))
}

// walkFiles calls fn for every regular file under dir with its slash-separated
// relative path. A missing dir has no files.
func walkFiles(dir string, fn func(rel, path string, info fs.FileInfo) error) error {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == ManifestFile {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), path, info)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
