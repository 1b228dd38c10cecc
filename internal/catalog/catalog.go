// internal/catalog/catalog.go
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// Ext is the recording file extension (matched case-insensitively).
	Ext = ".raw"
	// MaxNameLen bounds peer-provided filenames.
	MaxNameLen = 255
)

var (
	// ErrNotFound indicates no recording files exist.
	ErrNotFound = errors.New("no recordings found")
	// ErrInvalidName indicates a peer-provided name failed validation.
	ErrInvalidName = errors.New("invalid recording name")
	// ErrNoFile indicates a validated name does not resolve to a usable file.
	ErrNoFile = errors.New("recording file missing or empty")
	// ErrInvalidIndex indicates an index past the end of the listing.
	ErrInvalidIndex = errors.New("recording index out of range")
)

// Entry is one recording file in the catalog listing.
type Entry struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Catalog enumerates and resolves recording files in a single directory.
type Catalog struct {
	dir string
}

// New creates a catalog over dir. The directory is created if absent.
func New(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	return &Catalog{dir: dir}, nil
}

// Dir returns the recordings directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// List returns all regular recording files, newest first. The sort is
// stable so equal-mtime files keep directory order.
func (c *Catalog) List() ([]Entry, error) {
	des, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read recordings dir: %w", err)
	}
	var out []Entry
	for _, de := range des {
		if !de.Type().IsRegular() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(de.Name()), Ext) {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Name:    de.Name(),
			Path:    filepath.Join(c.dir, de.Name()),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ModTime.After(out[j].ModTime)
	})
	return out, nil
}

// Count returns the number of recording files.
func (c *Catalog) Count() (int, error) {
	es, err := c.List()
	if err != nil {
		return 0, err
	}
	return len(es), nil
}

// FindLatest returns the path of the most recently modified recording.
func (c *Catalog) FindLatest() (string, error) {
	es, err := c.List()
	if err != nil {
		return "", err
	}
	if len(es) == 0 {
		return "", ErrNotFound
	}
	return es[0].Path, nil
}

// SelectByIndex returns the path at position i of the newest-first listing.
func (c *Catalog) SelectByIndex(i int) (string, error) {
	es, err := c.List()
	if err != nil {
		return "", err
	}
	if i < 0 || i >= len(es) {
		return "", ErrInvalidIndex
	}
	return es[i].Path, nil
}

// ResolveName validates a peer-provided name and resolves it inside the
// recordings directory. The extension is appended when missing. Returns
// ErrInvalidName on any charset, length or traversal violation, and
// ErrNoFile when the resolved path is not a non-empty regular file.
func (c *Catalog) ResolveName(req string) (string, error) {
	if err := validateName(req); err != nil {
		return "", err
	}
	name := req
	if !strings.EqualFold(filepath.Ext(name), Ext) {
		name += Ext
	}
	path := filepath.Join(c.dir, name)
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() || fi.Size() == 0 {
		return "", ErrNoFile
	}
	return path, nil
}

func validateName(req string) error {
	if len(req) < 1 || len(req) > MaxNameLen {
		return fmt.Errorf("%w: length %d", ErrInvalidName, len(req))
	}
	if strings.Contains(req, "..") {
		return fmt.Errorf("%w: traversal", ErrInvalidName)
	}
	for _, r := range req {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			// Also rejects '/' and '\'.
			return fmt.Errorf("%w: character %q", ErrInvalidName, r)
		}
	}
	return nil
}

// NextRecordingPath allocates the next sequential rNNN.raw path, scanning
// existing names for the first free three-digit slot.
func (c *Catalog) NextRecordingPath() (string, error) {
	des, err := os.ReadDir(c.dir)
	if err != nil {
		return "", fmt.Errorf("read recordings dir: %w", err)
	}
	used := make(map[string]bool, len(des))
	for _, de := range des {
		used[strings.ToLower(de.Name())] = true
	}
	for n := 1; n <= 999; n++ {
		name := fmt.Sprintf("r%03d%s", n, Ext)
		if !used[name] {
			return filepath.Join(c.dir, name), nil
		}
	}
	return "", errors.New("recording name space exhausted")
}

// Summary formats the auto-select listing line: the newest file's name,
// its byte size, and the total recording count.
func (c *Catalog) Summary() string {
	es, err := c.List()
	if err != nil || len(es) == 0 {
		return "No .raw files found\n"
	}
	return fmt.Sprintf("LATEST:%s:%d:%d\n", es[0].Name, es[0].Size, len(es))
}
