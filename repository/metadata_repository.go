package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"StemForge/logger"
	"StemForge/model"

	"gopkg.in/yaml.v3"
)

// ErrNoMetadata is returned by Load when a track directory has no metadata file.
var ErrNoMetadata = errors.New("track metadata not found")

// MetadataStore keeps one metadata.yaml per track directory under an output root.
// Every Save rewrites the whole document through a temp file and a rename.
type MetadataStore struct {
	root    string
	catalog CatalogRepository
}

// NewMetadataStore 创建基于 YAML 文件的元数据仓库
func NewMetadataStore(root string) *MetadataStore {
	return &MetadataStore{root: root}
}

// WithCatalog mirrors every saved record into catalog. Mirror failures are logged, not returned.
func (s *MetadataStore) WithCatalog(catalog CatalogRepository) *MetadataStore {
	s.catalog = catalog
	return s
}

// Root is the output directory holding the track directories.
func (s *MetadataStore) Root() string {
	return s.root
}

// Path returns the metadata file of a track directory.
func (s *MetadataStore) Path(trackDir string) string {
	return filepath.Join(trackDir, model.MetadataFile)
}

// Exists reports whether trackDir already has metadata.
func (s *MetadataStore) Exists(trackDir string) bool {
	_, err := os.Stat(s.Path(trackDir))
	return err == nil
}

// Load reads the record of trackDir.
func (s *MetadataStore) Load(trackDir string) (*model.TrackRecord, error) {
	data, err := os.ReadFile(s.Path(trackDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoMetadata, trackDir)
		}
		return nil, fmt.Errorf("failed to read metadata of %s: %w", trackDir, err)
	}

	var rec model.TrackRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of %s: %w", trackDir, err)
	}
	if rec.Stems == nil {
		rec.Stems = make(map[string]*model.StemRecord)
	}
	if rec.OutputDir == "" {
		rec.OutputDir = trackDir
	}
	return &rec, nil
}

// Save writes rec to rec.OutputDir.
func (s *MetadataStore) Save(rec *model.TrackRecord) error {
	if rec.OutputDir == "" {
		return errors.New("track record has no output directory")
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode metadata of %s: %w", rec.Name, err)
	}
	if err := writeFileAtomic(s.Path(rec.OutputDir), data); err != nil {
		return fmt.Errorf("failed to write metadata of %s: %w", rec.Name, err)
	}

	if s.catalog != nil {
		if err := s.catalog.Upsert(context.Background(), model.NewCatalogEntry(rec)); err != nil {
			logger.Warn("Catalog mirror failed",
				logger.String("track", rec.Name),
				logger.ErrorField(err))
		}
	}
	return nil
}

// List returns the track directories under the root that carry metadata, in name order.
func (s *MetadataStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", s.root, err)
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		if s.Exists(dir) {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// writeFileAtomic replaces path with data so readers never see a truncated file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
