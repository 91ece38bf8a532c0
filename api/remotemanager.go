package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/aouyang1/framectl/config"
	"github.com/aouyang1/framectl/store"
	"github.com/aouyang1/framectl/util"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	mapset "github.com/deckarep/golang-set/v2"
)

const remoteSyncTimeout = 30 * time.Minute

// s3API is the subset of the S3 client the remote importer needs.
type s3API interface {
	s3.ListObjectsV2APIClient
	manager.DownloadAPIClient
}

// RemoteManager mirrors new objects from an S3 bucket onto the frame.
type RemoteManager struct {
	client s3API

	s3Bucket   string
	outputPath string
	interval   time.Duration

	uploader pathUploader
	db       uploadStore

	Updated chan bool
}

func NewRemoteManager(ctx context.Context, cfg config.Import, uploader pathUploader, db uploadStore) (*RemoteManager, error) {
	if !cfg.S3Enabled() {
		return nil, ErrImporterDisabled
	}

	// Load the Shared AWS Configuration (~/.aws/config)
	ctxCfg, cancelCfg := context.WithTimeout(ctx, 3*time.Second)
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctxCfg,
		awsconfig.WithSharedConfigProfile(cfg.S3Profile),
	)
	cancelCfg()
	if err != nil {
		return nil, fmt.Errorf("unable to load aws profile %s: %w", cfg.S3Profile, err)
	}

	return newRemoteManager(s3.NewFromConfig(awsCfg), cfg, uploader, db)
}

func newRemoteManager(client s3API, cfg config.Import, uploader pathUploader, db uploadStore) (*RemoteManager, error) {
	if err := os.MkdirAll(cfg.StagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create staging directory, %s, %w", cfg.StagingDir, err)
	}

	return &RemoteManager{
		client:     client,
		s3Bucket:   cfg.S3Bucket,
		outputPath: cfg.StagingDir,
		interval:   cfg.Interval(),
		uploader:   uploader,
		db:         db,
		Updated:    make(chan bool, 1),
	}, nil
}

func (r *RemoteManager) getRemoteFiles(ctx context.Context) (map[string]int64, error) {
	remoteFiles := make(map[string]int64)

	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.s3Bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to list bucket %s: %w", r.s3Bucket, err)
		}
		for object := range slices.Values(page.Contents) {
			name := aws.ToString(object.Key)
			if !util.IsSupportedImage(name) {
				continue
			}
			remoteFiles[name] = aws.ToInt64(object.Size)
		}
	}

	if len(remoteFiles) == 0 {
		slog.Info("no remote files found", "bucket", r.s3Bucket)
	}
	return remoteFiles, nil
}

func (r *RemoteManager) downloadObject(ctx context.Context, name string) (string, error) {
	downloader := manager.NewDownloader(r.client)

	// keys under different prefixes may share a base name, so every object
	// is staged under its own unique file name
	f, err := os.CreateTemp(r.outputPath, "*-"+filepath.Base(name))
	if err != nil {
		return "", fmt.Errorf("unable to create file for s3 download, %s, %w", name, err)
	}
	defer f.Close()
	path := f.Name()

	if _, err := downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(r.s3Bucket),
		Key:    aws.String(name),
	}); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("unable to download object from s3, %s, %w", name, err)
	}
	return path, nil
}

// SyncBucket uploads every bucket object not uploaded before and returns
// how many the frame accepted.
func (r *RemoteManager) SyncBucket(ctx context.Context) (int, error) {
	uploadedNames, err := r.db.UploadedNames(store.SourceS3)
	if err != nil {
		return 0, err
	}

	remoteFiles, err := r.getRemoteFiles(ctx)
	if err != nil {
		return 0, err
	}

	remoteNames := mapset.NewSetWithSize[string](len(remoteFiles))
	for name := range remoteFiles {
		remoteNames.Add(name)
	}

	toDownload := remoteNames.Difference(uploadedNames).ToSlice()
	if len(toDownload) == 0 {
		return 0, nil
	}
	slices.Sort(toDownload)
	slog.Info("adding files", "count", len(toDownload), "names", toDownload)

	staged := make([]fileInfo, 0, len(toDownload))
	for name := range slices.Values(toDownload) {
		path, err := r.downloadObject(ctx, name)
		if err != nil {
			slog.Warn("error while downloading s3 object", "name", name, "error", err)
			continue
		}
		staged = append(staged, fileInfo{name: name, size: remoteFiles[name], path: path})
	}
	defer func() {
		for f := range slices.Values(staged) {
			if err := os.Remove(f.path); err != nil {
				slog.Warn("unable to remove staged file", "path", f.path, "error", err)
			}
		}
	}()

	uploaded := uploadFiles(ctx, r.uploader, r.db, store.SourceS3, staged)
	if len(uploaded) > 0 {
		select {
		case r.Updated <- true:
		default:
		}
	}
	return len(uploaded), nil
}

func (r *RemoteManager) sync(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, remoteSyncTimeout)
	defer cancel()
	if _, err := r.SyncBucket(ctx); err != nil {
		slog.Warn("error while syncing with remote", "error", err)
	}
}

func (r *RemoteManager) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Initial sync
	r.sync(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sync(ctx)
		}
	}
}
