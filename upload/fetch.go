package upload

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/filedownloader"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
)

const fileScheme = "file://"

// ScanFetcher resolves scan references to local file paths. A reference is
// either a local path (optionally with the file:// scheme) or a remote
// http(s) URL, in which case the scan is downloaded to a temporary directory
// first so the multipart uploader can read it like any other file.
type ScanFetcher interface {
	LocalPath(ctx context.Context, ref string) (string, error)
}

type scanFetcher struct {
	downloader   filedownloader.Downloader
	pathProvider pathutil.PathProvider
	pathModifier pathutil.PathModifier
}

// NewScanFetcher ...
func NewScanFetcher(logger log.Logger) ScanFetcher {
	return &scanFetcher{
		downloader:   filedownloader.NewDownloader(logger),
		pathProvider: pathutil.NewPathProvider(),
		pathModifier: pathutil.NewPathModifier(),
	}
}

// IsRemote reports whether ref needs to be downloaded before it can be
// enqueued.
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func (f *scanFetcher) LocalPath(ctx context.Context, ref string) (string, error) {
	if IsRemote(ref) {
		return f.download(ctx, ref)
	}
	return f.pathModifier.AbsPath(strings.TrimPrefix(ref, fileScheme))
}

func (f *scanFetcher) download(ctx context.Context, scanURL string) (string, error) {
	parsed, err := url.Parse(scanURL)
	if err != nil {
		return "", fmt.Errorf("parse scan URL %s: %w", scanURL, err)
	}
	filename := filepath.Base(parsed.Path)
	if filename == "." || filename == "/" {
		return "", fmt.Errorf("no filename in scan URL %s", scanURL)
	}

	tmpDir, err := f.pathProvider.CreateTempDir("scan-fetch")
	if err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	localPath := filepath.Join(tmpDir, filename)
	if err := f.downloader.Download(ctx, localPath, scanURL); err != nil {
		return "", fmt.Errorf("download %s: %w", scanURL, err)
	}
	return localPath, nil
}
