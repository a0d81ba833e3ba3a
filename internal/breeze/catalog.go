package breeze

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tomerfi/switcher/internal/logging"
)

// DefaultCatalogURL is the vendor endpoint serving per-remote IRSet
// catalogs as JSON, keyed by remote identifier.
const DefaultCatalogURL = "https://switcher.co.il/misc/irset"

// Fetcher obtains the raw catalog bytes for one remote identifier. The
// transport belongs to the caller; tests substitute an in-memory one.
type Fetcher interface {
	Fetch(ctx context.Context, remoteID string) ([]byte, error)
}

// HTTPFetcher fetches catalogs over HTTP from a base URL.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPFetcher builds a fetcher against the vendor's default endpoint.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: DefaultCatalogURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch downloads the catalog JSON for one remote identifier.
func (f *HTTPFetcher) Fetch(ctx context.Context, remoteID string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s.json", f.BaseURL, remoteID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request: %w", err)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog for %s: %w", remoteID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog fetch for %s returned %s", remoteID, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog for %s: %w", remoteID, err)
	}
	return data, nil
}

// Catalog loads remotes on demand, backed by an on-disk cache directory.
// Loaded remotes are shared read-only across concurrent resolutions; cache
// files are replaced atomically so a concurrent reader never sees a
// partial write.
type Catalog struct {
	dir     string
	fetcher Fetcher

	mu     sync.Mutex
	loaded map[string]*Remote
}

// NewCatalog builds a catalog over a cache directory and a fetcher. The
// directory is created if missing.
func NewCatalog(dir string, fetcher Fetcher) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create catalog cache dir: %w", err)
	}
	return &Catalog{
		dir:     dir,
		fetcher: fetcher,
		loaded:  make(map[string]*Remote),
	}, nil
}

// Get returns the remote for an identifier, loading it from memory, the
// disk cache, or the fetcher, in that order. A fetched catalog is persisted
// for reuse before parsing.
func (c *Catalog) Get(ctx context.Context, remoteID string) (*Remote, error) {
	c.mu.Lock()
	if remote, ok := c.loaded[remoteID]; ok {
		c.mu.Unlock()
		return remote, nil
	}
	// The lock only guards the map; disk and network I/O run outside it so
	// a slow fetch for one remote never blocks loads of unrelated ones.
	c.mu.Unlock()

	data, err := os.ReadFile(c.cachePath(remoteID))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read cached catalog: %w", err)
		}
		logging.Debug("fetching remote catalog", zap.String("remote", remoteID))
		data, err = c.fetcher.Fetch(ctx, remoteID)
		if err != nil {
			return nil, err
		}
		if err := c.store(remoteID, data); err != nil {
			return nil, err
		}
	}

	remote, err := ParseRemote(data)
	if err != nil {
		return nil, fmt.Errorf("catalog for %s: %w", remoteID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent load of the same id may have finished first; keep the
	// entry callers already share.
	if existing, ok := c.loaded[remoteID]; ok {
		return existing, nil
	}
	c.loaded[remoteID] = remote
	return remote, nil
}

// store writes a catalog cache entry with atomic replace-on-write
// semantics: the bytes land in a temp file first, then rename into place.
func (c *Catalog) store(remoteID string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, remoteID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create catalog temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write catalog cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close catalog cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.cachePath(remoteID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to install catalog cache: %w", err)
	}
	return nil
}

func (c *Catalog) cachePath(remoteID string) string {
	return filepath.Join(c.dir, remoteID+".json")
}
