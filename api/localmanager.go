package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/aouyang1/framectl/api/models"
	"github.com/aouyang1/framectl/config"
	"github.com/aouyang1/framectl/store"
	"github.com/aouyang1/framectl/util"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
)

// uploadBatchSize bounds how many files go into one multipart request.
const uploadBatchSize = 10

var ErrImporterDisabled = errors.New("importer is not configured")

type pathUploader interface {
	UploadPaths(ctx context.Context, paths []string) (*models.UploadResponse, error)
}

type uploadStore interface {
	UploadedNames(source string) (mapset.Set[string], error)
	RecordUpload(u store.Upload) error
}

// LocalManager uploads images that appear in a watched folder.
type LocalManager struct {
	path     string
	interval time.Duration

	uploader pathUploader
	db       uploadStore

	trackedFiles mapset.Set[string]

	Updated chan bool
}

func NewLocalManager(cfg config.Import, uploader pathUploader, db uploadStore) (*LocalManager, error) {
	if !cfg.LocalEnabled() {
		return nil, ErrImporterDisabled
	}

	if err := os.MkdirAll(cfg.LocalDir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create local import directory, %s, %w", cfg.LocalDir, err)
	}

	tracked, err := db.UploadedNames(store.SourceLocal)
	if err != nil {
		return nil, fmt.Errorf("unable to load uploaded local files: %w", err)
	}

	return &LocalManager{
		path:         cfg.LocalDir,
		interval:     cfg.Interval(),
		uploader:     uploader,
		db:           db,
		trackedFiles: tracked,
		Updated:      make(chan bool, 1),
	}, nil
}

type fileInfo struct {
	name    string
	modTime time.Time
	size    int64
	path    string
}

func (l *LocalManager) getCurrentFiles() (mapset.Set[string], map[string]fileInfo, error) {
	dirs, err := os.ReadDir(l.path)
	if err != nil {
		return nil, nil, err
	}

	currentFiles := mapset.NewSet[string]()
	fileInfos := make(map[string]fileInfo)

	for _, dir := range dirs {
		name := dir.Name()
		if dir.IsDir() || !util.IsSupportedImage(name) {
			continue
		}

		info, err := dir.Info()
		if err != nil {
			continue
		}

		currentFiles.Add(name)
		fileInfos[name] = fileInfo{
			name:    name,
			modTime: info.ModTime(),
			size:    info.Size(),
			path:    filepath.Join(l.path, name),
		}
	}

	return currentFiles, fileInfos, nil
}

func (l *LocalManager) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	// Initial scan
	l.scanAndUpload(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.scanAndUpload(ctx)
		}
	}
}

// scanAndUpload uploads every supported file not uploaded before, oldest
// first, and returns how many were accepted.
func (l *LocalManager) scanAndUpload(ctx context.Context) int {
	currentFiles, fileInfos, err := l.getCurrentFiles()
	if err != nil {
		slog.Warn("error reading local directory", "path", l.path, "error", err)
		return 0
	}

	newNames := currentFiles.Difference(l.trackedFiles).ToSlice()
	if len(newNames) == 0 {
		return 0
	}

	newFiles := make([]fileInfo, 0, len(newNames))
	for _, name := range newNames {
		newFiles = append(newFiles, fileInfos[name])
	}
	slices.SortFunc(newFiles, func(a, b fileInfo) int {
		return a.modTime.Compare(b.modTime)
	})

	uploaded := uploadFiles(ctx, l.uploader, l.db, store.SourceLocal, newFiles)
	for _, f := range uploaded {
		l.trackedFiles.Add(f.name)
	}

	if len(uploaded) > 0 {
		select {
		case l.Updated <- true:
		default:
			// Channel is full, skip
		}
	}
	return len(uploaded)
}

// uploadFiles sends files in batches and records the ones the frame
// accepted. A failed batch is logged and skipped so the next scan retries it.
func uploadFiles(ctx context.Context, uploader pathUploader, db uploadStore, source string, files []fileInfo) []fileInfo {
	var uploaded []fileInfo
	var totalBytes int64

	for batch := range slices.Chunk(files, uploadBatchSize) {
		paths := make([]string, len(batch))
		for i, f := range batch {
			paths[i] = f.path
		}

		resp, err := uploader.UploadPaths(ctx, paths)
		if err != nil {
			slog.Warn("error while uploading images", "source", source, "count", len(paths), "error", err)
			continue
		}

		added := make(map[string]string, len(resp.Added))
		for _, a := range resp.Added {
			added[a.Filename] = a.ID
		}

		now := time.Now()
		for _, f := range batch {
			imageID, ok := added[filepath.Base(f.path)]
			if !ok {
				slog.Warn("frame did not accept image", "source", source, "name", f.name)
				continue
			}
			if err := db.RecordUpload(store.Upload{
				Source:     source,
				Name:       f.name,
				ImageID:    imageID,
				Size:       f.size,
				UploadedAt: now,
			}); err != nil {
				slog.Warn("error while recording upload", "source", source, "name", f.name, "error", err)
			}
			uploaded = append(uploaded, f)
			totalBytes += f.size
		}
	}

	if len(uploaded) > 0 {
		slog.Info("uploaded images", "source", source, "count", len(uploaded), "size", humanize.Bytes(uint64(totalBytes)))
	}
	return uploaded
}
