// Package bundle materializes the application code from object storage
// before startup. Deployments ship the app as a zip archive; the archive
// is cached on disk keyed by its ETag so instance restarts skip the
// download when the release has not changed.
package bundle

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/logger"
	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/metrics"
	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/storage"
)

type ObjectStore interface {
	StatObject(ctx context.Context, bucket, object string) (storage.ObjectInfo, error)
	GetObject(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

type Fetcher struct {
	store    ObjectStore
	bucket   string
	object   string
	cacheDir string
}

func NewFetcher(store ObjectStore, bucket, object, cacheDir string) *Fetcher {
	os.MkdirAll(cacheDir, 0755)
	return &Fetcher{
		store:    store,
		bucket:   bucket,
		object:   object,
		cacheDir: cacheDir,
	}
}

// EnsureArchive returns a local path to the bundle archive, downloading it
// when no cached copy matches the stored object's ETag.
func (f *Fetcher) EnsureArchive(ctx context.Context) (string, error) {
	info, err := f.store.StatObject(ctx, f.bucket, f.object)
	if err != nil {
		return "", fmt.Errorf("failed to stat bundle: %w", err)
	}

	localPath := filepath.Join(f.cacheDir, cacheName(f.object, info.ETag))

	if _, err := os.Stat(localPath); err == nil {
		logger.Debug("bundle cache hit", "object", f.object, "path", localPath)
		metrics.BundleCacheHits.Inc()
		return localPath, nil
	}

	logger.Info("downloading bundle", "bucket", f.bucket, "object", f.object)
	metrics.BundleCacheMisses.Inc()

	obj, err := f.store.GetObject(ctx, f.bucket, f.object)
	if err != nil {
		return "", fmt.Errorf("failed to get bundle: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return "", fmt.Errorf("failed to read bundle: %w", err)
	}

	if len(data) == 0 {
		return "", fmt.Errorf("bundle %s/%s is empty", f.bucket, f.object)
	}

	if err := os.WriteFile(localPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write cache file: %w", err)
	}

	logger.Info("bundle cached", "path", localPath, "size", len(data))
	return localPath, nil
}

// Deploy unpacks the bundle into appDir, downloading it first if needed.
func (f *Fetcher) Deploy(ctx context.Context, appDir string) error {
	archive, err := f.EnsureArchive(ctx)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(appDir, 0755); err != nil {
		return fmt.Errorf("failed to create app dir: %w", err)
	}

	if err := ExtractZip(archive, appDir); err != nil {
		return fmt.Errorf("failed to unpack bundle: %w", err)
	}

	logger.Info("bundle deployed", "object", f.object, "dir", appDir)
	return nil
}

func cacheName(object, etag string) string {
	base := filepath.Base(object)
	etag = strings.Trim(etag, `"`)
	if etag == "" {
		return base
	}
	return etag + "-" + base
}

func ExtractZip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	destRoot := filepath.Clean(dest) + string(os.PathSeparator)

	for _, f := range r.File {
		path := filepath.Join(dest, f.Name)
		// Entries must stay inside dest
		if !strings.HasPrefix(filepath.Clean(path)+string(os.PathSeparator), destRoot) {
			return fmt.Errorf("archive entry %q escapes target dir", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}

		if err := writeEntry(f, path); err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func writeEntry(f *zip.File, path string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	outFile, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}

	if _, err := io.Copy(outFile, rc); err != nil {
		outFile.Close()
		return err
	}
	return outFile.Close()
}
