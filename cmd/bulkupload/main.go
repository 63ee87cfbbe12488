// bulkupload enqueues a batch of archival scans for a source and follows them
// through upload, ingestion and page splitting. File arguments may be local
// paths, glob patterns (including **) or http(s) URLs; remote scans are
// downloaded before upload. The queue is persisted, so an interrupted run is
// picked up by the next one.
//
// Usage:
//
//	ARCHIVE_API_URL=... ARCHIVE_ACCESS_TOKEN=... SOURCE_ID=... bulkupload 'scans/**/*.pdf'
package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/famtree-io/go-uploadutils/envconfig"
	"github.com/famtree-io/go-uploadutils/upload"
	"github.com/famtree-io/go-uploadutils/upload/network"
	"github.com/famtree-io/go-uploadutils/upload/network/partuploader"
)

type config struct {
	APIBaseURL  string           `env:"ARCHIVE_API_URL,required"`
	AccessToken envconfig.Secret `env:"ARCHIVE_ACCESS_TOKEN,required"`
	SourceID    string           `env:"SOURCE_ID,required"`

	FileConcurrency int    `env:"FILE_CONCURRENCY"`
	PartConcurrency int    `env:"PART_CONCURRENCY"`
	StatePath       string `env:"UPLOAD_STATE_PATH"`
	Verbose         bool   `env:"VERBOSE"`

	// Direct-to-bucket path for partners with storage credentials: scans go
	// straight to S3 with checksum-based duplicate detection, skipping the
	// portal's multipart session.
	Bucket          string           `env:"AWS_BUCKET"`
	Region          string           `env:"AWS_REGION"`
	AccessKeyID     string           `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey envconfig.Secret `env:"AWS_SECRET_ACCESS_KEY"`
}

func main() {
	logger := log.NewLogger()

	if err := run(logger); err != nil {
		logger.Errorf("%s", err)
		os.Exit(1)
	}
}

func run(logger log.Logger) error {
	var cfg config
	if err := envconfig.Parse(&cfg); err != nil {
		return err
	}
	logger.EnableDebugLog(cfg.Verbose)
	envconfig.Print(cfg, logger)

	if len(os.Args) < 2 {
		return fmt.Errorf("no files given; pass paths, glob patterns or URLs as arguments")
	}

	ctx := context.Background()
	paths, err := resolveArgs(ctx, os.Args[1:], logger)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no files matched the given arguments")
	}

	client, err := network.NewClient(network.NewClientParams{
		APIBaseURL:  cfg.APIBaseURL,
		AccessToken: string(cfg.AccessToken),
		PartConfig:  partConfig(cfg),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	if cfg.Bucket != "" {
		return uploadDirect(ctx, cfg, paths, client, network.UploadScanToS3, logger)
	}
	return uploadViaPortal(ctx, cfg, paths, client, logger)
}

// resolveArgs turns the raw arguments into local file paths: remote scans are
// downloaded, the rest goes through glob expansion.
func resolveArgs(ctx context.Context, args []string, logger log.Logger) ([]string, error) {
	fetcher := upload.NewScanFetcher(logger)

	var patterns []string
	var paths []string
	for _, arg := range args {
		if !upload.IsRemote(arg) {
			patterns = append(patterns, arg)
			continue
		}
		localPath, err := fetcher.LocalPath(ctx, arg)
		if err != nil {
			return nil, err
		}
		paths = append(paths, localPath)
	}

	expanded, err := upload.ExpandPatterns(patterns, logger)
	if err != nil {
		return nil, err
	}
	return append(paths, expanded...), nil
}

func uploadViaPortal(ctx context.Context, cfg config, paths []string, client *network.Client, logger log.Logger) error {
	statePath := cfg.StatePath
	if statePath == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return fmt.Errorf("resolve state directory: %w", err)
		}
		statePath = filepath.Join(cacheDir, "bulkupload", "state.json")
	}

	manager, err := upload.NewManager(
		upload.Config{FileConcurrency: cfg.FileConcurrency},
		upload.NewFileStore(statePath),
		client,
		client,
		client,
		env.NewRepository(),
		logger,
	)
	if err != nil {
		return err
	}

	// Pick up items left over from an interrupted run before adding new ones.
	manager.Resume(ctx)

	if _, err := manager.Enqueue(ctx, cfg.SourceID, paths); err != nil {
		return err
	}
	logger.Infof("Uploading %d file(s) for source %s", len(paths), cfg.SourceID)

	manager.Wait()

	summary := manager.Summary()
	logger.Printf("")
	logger.Infof("Done: %d  Errored: %d", summary.Done, summary.Errored)
	if summary.Errored > 0 {
		logger.Printf("%s", manager.Errors().Export())
		return fmt.Errorf("%d file(s) failed", summary.Errored)
	}
	return nil
}

type scanStoreFunc func(ctx context.Context, params network.S3UploadParams, logger log.Logger) error

// uploadDirect stores each scan in the partner bucket, then notifies ingestion
// the same way the portal path does: a stored object the backend never hears
// about is never processed.
func uploadDirect(ctx context.Context, cfg config, paths []string, notifier upload.IngestNotifier, storeScan scanStoreFunc, logger log.Logger) error {
	var failures int
	for _, scanPath := range paths {
		info, err := os.Stat(scanPath)
		if err != nil {
			return err
		}
		filename := filepath.Base(scanPath)
		key := path.Join("sources", cfg.SourceID, filename)
		logger.Infof("Uploading %s (%s) to s3://%s", filename, units.HumanSizeWithPrecision(float64(info.Size()), 3), cfg.Bucket)

		err = storeScan(ctx, network.S3UploadParams{
			ScanPath:        scanPath,
			Key:             key,
			Region:          cfg.Region,
			Bucket:          cfg.Bucket,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: string(cfg.SecretAccessKey),
		}, logger)
		if err != nil {
			logger.Errorf("%s: %s", filename, err)
			failures++
			continue
		}

		err = notifier.EnqueueIngest(ctx, network.IngestParams{
			SourceID:     cfg.SourceID,
			Key:          key,
			ContentType:  network.DetectContentType(filename),
			OriginalName: filename,
		})
		if err != nil {
			logger.Errorf("%s: %s", filename, err)
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d file(s) failed", failures)
	}
	return nil
}

func partConfig(cfg config) *partuploader.Config {
	if cfg.PartConcurrency <= 0 {
		return nil
	}
	c := partuploader.DefaultConfig()
	c.Concurrency = cfg.PartConcurrency
	return &c
}
