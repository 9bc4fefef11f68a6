package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"StemForge/logger"
	"StemForge/model"
)

// ErrNotNormalized is returned for tracks whose mix pass has not completed.
var ErrNotNormalized = errors.New("track is not normalized")

// ObjectStore is the object storage a Publisher writes to. *MinioClient satisfies it.
type ObjectStore interface {
	Stat(ctx context.Context, key string) (size int64, exists bool, err error)
	Put(ctx context.Context, key, localPath, contentType string) error
}

// PublishStats counts the objects of one publication.
type PublishStats struct {
	Uploaded int
	Skipped  int
}

// Publisher uploads finished track directories under Prefix/TrackNNNNN/.
type Publisher struct {
	Store  ObjectStore
	Prefix string
}

// ObjectKey is where a file of a track directory is stored. rel uses the local separator.
func (p *Publisher) ObjectKey(track, rel string) string {
	return path.Join(p.Prefix, track, filepath.ToSlash(rel))
}

// Publish uploads the metadata, mixture, stems and stem MIDI of rec. Objects
// that already exist with the same size are left alone.
func (p *Publisher) Publish(ctx context.Context, rec *model.TrackRecord) (PublishStats, error) {
	var stats PublishStats
	if !rec.Normalized() {
		return stats, fmt.Errorf("%w: %s", ErrNotNormalized, rec.Name)
	}

	files, err := publishableFiles(rec)
	if err != nil {
		return stats, err
	}
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		local := filepath.Join(rec.OutputDir, rel)
		info, err := os.Stat(local)
		if err != nil {
			return stats, err
		}

		key := p.ObjectKey(rec.Name, rel)
		size, exists, err := p.Store.Stat(ctx, key)
		if err != nil {
			return stats, fmt.Errorf("failed to stat %s: %w", key, err)
		}
		if exists && size == info.Size() {
			stats.Skipped++
			continue
		}
		if err := p.Store.Put(ctx, key, local, ContentType(rel)); err != nil {
			return stats, fmt.Errorf("failed to upload %s: %w", key, err)
		}
		stats.Uploaded++
		logger.Debug("Uploaded object", logger.String("key", key), logger.Int64("size", info.Size()))
	}

	logger.Info("Published track",
		logger.String("track", rec.Name),
		logger.Int("uploaded", stats.Uploaded),
		logger.Int("skipped", stats.Skipped))
	return stats, nil
}

// publishableFiles lists paths relative to the track directory, in upload order.
func publishableFiles(rec *model.TrackRecord) ([]string, error) {
	files := []string{model.MetadataFile, model.MixFile}
	for _, sub := range []string{model.StemsSubdir, model.MIDISubdir} {
		entries, err := os.ReadDir(filepath.Join(rec.OutputDir, sub))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, filepath.Join(sub, e.Name()))
			}
		}
	}
	return files, nil
}
