// Package catalog implements the card catalog collaborator: it resolves a
// sorted, deduplicated list of card IDs from one or more image directories,
// and serves the raw bytes + content type for a card ID. Normalization
// (cropping, resizing, re-encoding) happens upstream of this package; it
// only reads whatever bytes are already on disk and caches them in memory.
package catalog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ExtraDirPrefix namespaces card IDs sourced from an extra image directory
// so they can never collide with a builtin card ID.
const ExtraDirPrefix = "extra_dir__"

var sniffableExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".avif": "image/avif",
	".webp": "image/webp",
}

// Config controls which directories the catalog scans and how the cache
// behaves. It mirrors the CACHE_DIR / extra-image-dir / disable-builtin-images
// environment variables documented in the core's external interface.
type Config struct {
	// CardsDir is the directory of builtin, pre-normalized card images.
	CardsDir string
	// ExtraImageDirs are additional directories scanned for card images,
	// newline-separated in the environment and already split here.
	ExtraImageDirs []string
	// DisableBuiltinImages skips CardsDir entirely, serving only
	// ExtraImageDirs.
	DisableBuiltinImages bool
	// CacheDir is where scanned images are symlinked (or copied) into a
	// single directory, each named by its card ID, so CardBytes has one
	// lookup path regardless of source directory.
	CacheDir string
	// CacheSize bounds the in-memory LRU of decoded file bytes.
	CacheSize int
}

// Catalog is the immutable-after-load card catalog. Safe for concurrent use.
type Catalog struct {
	cardIDs []string
	paths   map[string]string // card id -> absolute path on disk
	cache   *lru.Cache[string, cacheEntry]
}

type cacheEntry struct {
	bytes       []byte
	contentType string
}

// Load scans the configured directories and builds a Catalog. It is called
// once at startup; the result is treated as immutable thereafter.
func Load(cfg Config) (*Catalog, error) {
	paths := make(map[string]string)

	if !cfg.DisableBuiltinImages && cfg.CardsDir != "" {
		if err := scanDir(cfg.CardsDir, "", paths); err != nil {
			return nil, fmt.Errorf("scanning builtin cards dir %q: %w", cfg.CardsDir, err)
		}
	}

	for _, dir := range cfg.ExtraImageDirs {
		dir = expandHome(strings.TrimSpace(dir))
		if dir == "" {
			continue
		}
		if err := scanDir(dir, ExtraDirPrefix, paths); err != nil {
			return nil, fmt.Errorf("scanning extra image dir %q: %w", dir, err)
		}
	}

	if cfg.CacheDir != "" {
		if err := linkIntoCache(cfg.CacheDir, paths); err != nil {
			return nil, fmt.Errorf("populating cache dir %q: %w", cfg.CacheDir, err)
		}
	}

	ids := make([]string, 0, len(paths))
	for id := range paths {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("constructing card byte cache: %w", err)
	}

	return &Catalog{cardIDs: ids, paths: paths, cache: cache}, nil
}

// CardIDs returns the sorted, deduplicated base deck: the set of card IDs
// known to the catalog at load time.
func (c *Catalog) CardIDs() []string {
	out := make([]string, len(c.cardIDs))
	copy(out, c.cardIDs)
	return out
}

// CardBytes resolves a card ID to its encoded bytes and MIME type. The
// second return value is false when the ID is unknown.
func (c *Catalog) CardBytes(id string) ([]byte, string, bool) {
	if entry, ok := c.cache.Get(id); ok {
		return entry.bytes, entry.contentType, true
	}

	path, ok := c.paths[id]
	if !ok {
		return nil, "", false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", false
	}

	contentType := sniffableExtensions[strings.ToLower(filepath.Ext(path))]
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.cache.Add(id, cacheEntry{bytes: data, contentType: contentType})

	return data, contentType, true
}

func scanDir(dir, prefix string, out map[string]string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if _, ok := sniffableExtensions[ext]; !ok {
			continue
		}
		id := prefix + strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		out[id] = filepath.Join(dir, entry.Name())
	}

	return nil
}

// linkIntoCache mirrors every scanned path into cacheDir under its card ID
// plus extension, symlinking when possible and falling back to a copy. This
// gives CardBytes a single directory keyed by card ID to reason about even
// though the originals may live across several source directories.
func linkIntoCache(cacheDir string, paths map[string]string) error {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return err
	}

	for id, src := range paths {
		dst := filepath.Join(cacheDir, id+strings.ToLower(filepath.Ext(src)))

		if _, err := os.Lstat(dst); err == nil {
			paths[id] = dst
			continue
		}

		if err := os.Symlink(src, dst); err == nil {
			paths[id] = dst
			continue
		}

		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("linking or copying %q: %w", src, err)
		}
		paths[id] = dst
	}

	return nil
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
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func expandHome(dir string) string {
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return dir
		}
		return filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	return dir
}
