package home

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/phuslu/log"
	"github.com/timshannon/badgerhold/v4"
)

const (
	// ContentValid is how long a cached response may be served
	ContentValid = 7 * 24 * time.Hour
	// ContentRefresh is the age after which a served entry is refetched in
	// the background
	ContentRefresh = 12 * time.Hour
)

// CacheEntry is a cached remote content
type CacheEntry struct {
	Key     string
	Data    string
	Time    int64 // unix seconds when fetched
	Expires int64 `badgerholdIndex:"Expires"`
}

// FetchFunc downloads a remote content
type FetchFunc func(ctx context.Context, url string) (string, error)

// ContentCache keeps remote contents in a badger database
type ContentCache struct {
	store *badgerhold.Store
	fetch FetchFunc
	now   func() time.Time
	log   *log.Logger

	mu    sync.Mutex
	stale map[string]bool
}

// OpenContentCache opens the cache database in dir, an empty dir keeps it
// in memory
func OpenContentCache(dir string, fetch FetchFunc, logger *log.Logger) (*ContentCache, error) {
	options := badgerhold.DefaultOptions
	if dir == "" {
		options.Options = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		options.Options = badger.DefaultOptions(dir)
	}
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open content cache: %w", err)
	}
	return &ContentCache{
		store: store,
		fetch: fetch,
		now:   time.Now,
		log:   logger,
		stale: make(map[string]bool),
	}, nil
}

func (c *ContentCache) Close() error {
	return c.store.Close()
}

// Get returns a valid entry, expired entries are dropped
func (c *ContentCache) Get(key string) (*CacheEntry, error) {
	var entry CacheEntry
	err := c.store.Get(key, &entry)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	if entry.Expires <= c.now().Unix() {
		c.store.Delete(key, &CacheEntry{})
		return nil, ErrNotFound
	}
	return &entry, nil
}

// Set stores data under key for valid
func (c *ContentCache) Set(key, data string, valid time.Duration) error {
	now := c.now()
	entry := CacheEntry{Key: key, Data: data, Time: now.Unix(), Expires: now.Add(valid).Unix()}
	if err := c.store.Upsert(key, &entry); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// Load returns the content of url from the cache, fetching it on a miss.
// Entries older than ContentRefresh are still served and queued for
// RefreshStale.
func (c *ContentCache) Load(ctx context.Context, url string) (string, error) {
	key := "content:" + url
	entry, err := c.Get(key)
	if err == nil {
		if c.now().Unix()-entry.Time > int64(ContentRefresh/time.Second) {
			c.mu.Lock()
			c.stale[url] = true
			c.mu.Unlock()
		}
		return entry.Data, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	return c.preload(ctx, url)
}

func (c *ContentCache) preload(ctx context.Context, url string) (string, error) {
	data, err := c.fetch(ctx, url)
	if err != nil {
		return "", err
	}
	if err := c.Set("content:"+url, data, ContentValid); err != nil {
		return "", err
	}
	return data, nil
}

// RefreshStale refetches the queued contents
func (c *ContentCache) RefreshStale(ctx context.Context) {
	c.mu.Lock()
	urls := make([]string, 0, len(c.stale))
	for url := range c.stale {
		urls = append(urls, url)
	}
	clear(c.stale)
	c.mu.Unlock()
	slices.Sort(urls)

	for _, url := range urls {
		if _, err := c.preload(ctx, url); err != nil {
			c.log.Warn().Err(err).Str("url", url).Msg("failed to refresh cached content")
			continue
		}
		c.log.Debug().Str("url", url).Msg("refreshed cached content")
	}
}

// Purge drops expired entries
func (c *ContentCache) Purge() error {
	return c.store.DeleteMatching(&CacheEntry{}, badgerhold.Where("Expires").Le(c.now().Unix()))
}

// FetchContent downloads url with a timeout
func FetchContent(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch %s: %s", url, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
