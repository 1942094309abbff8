// Package vault is the durable container layer for action records. Each
// container is a directory; moving a record between containers is the
// externally visible approval mechanism, so moves use atomic same-volume
// renames.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sentinelops/sentinel/pkg/action"
	"github.com/sentinelops/sentinel/pkg/telemetry"
)

// Container identifies one storage location for action records.
type Container string

const (
	Pending  Container = "Pending"
	Approved Container = "Approved"
	Rejected Container = "Rejected"
	Expired  Container = "Expired"
	Done     Container = "Done"
)

// Containers lists every container in scan order.
var Containers = []Container{Pending, Approved, Rejected, Expired, Done}

// ErrNotFound marks a record absent from the requested container.
var ErrNotFound = errors.New("record not found")

// Repository abstracts the physical storage of action records so the
// lifecycle never touches the filesystem directly.
type Repository interface {
	// List returns the record names in a container.
	List(ctx context.Context, c Container) ([]string, error)

	// Read loads and decodes one record.
	Read(ctx context.Context, c Container, name string) (*action.Action, error)

	// Write encodes and persists one record, replacing any existing file.
	Write(ctx context.Context, c Container, name string, a *action.Action) error

	// Move relocates a record between containers. The move is the
	// transition commit point and must be atomic.
	Move(ctx context.Context, name string, from, to Container) error

	// Exists reports whether a record is present in a container.
	Exists(ctx context.Context, c Container, name string) bool
}

// FS is the directory-per-container Repository.
type FS struct {
	root string
	log  *telemetry.Logger
}

// NewFS opens a vault rooted at dir. Use Init to create the container
// directories.
func NewFS(dir string, log *telemetry.Logger) *FS {
	return &FS{root: dir, log: log}
}

// Root returns the vault root directory.
func (v *FS) Root() string {
	return v.root
}

// Init creates the container directories.
func (v *FS) Init() error {
	for _, c := range Containers {
		if err := os.MkdirAll(v.dir(c), 0o755); err != nil {
			return fmt.Errorf("creating container %s: %w", c, err)
		}
	}
	return nil
}

// List returns the .md record names in a container, sorted.
func (v *FS) List(ctx context.Context, c Container) ([]string, error) {
	entries, err := os.ReadDir(v.dir(c))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", c, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Read loads and decodes one record.
func (v *FS) Read(ctx context.Context, c Container, name string) (*action.Action, error) {
	data, err := os.ReadFile(v.path(c, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, name, c)
		}
		return nil, fmt.Errorf("reading %s from %s: %w", name, c, err)
	}
	a, err := action.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return a, nil
}

// Write persists a record via temp file + rename.
func (v *FS) Write(ctx context.Context, c Container, name string, a *action.Action) error {
	data, err := a.Encode()
	if err != nil {
		return err
	}
	path := v.path(c, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing %s: %w", name, err)
	}
	return nil
}

// Move relocates a record with one atomic rename.
func (v *FS) Move(ctx context.Context, name string, from, to Container) error {
	src := v.path(from, name)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s in %s", ErrNotFound, name, from)
	}
	dst := v.path(to, name)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("moving %s from %s to %s: %w", name, from, to, err)
	}
	if v.log != nil {
		v.log.WithField("record", name).Debugf("moved %s -> %s", from, to)
	}
	return nil
}

// Exists reports whether the record file is present.
func (v *FS) Exists(ctx context.Context, c Container, name string) bool {
	_, err := os.Stat(v.path(c, name))
	return err == nil
}

func (v *FS) dir(c Container) string {
	return filepath.Join(v.root, string(c))
}

func (v *FS) path(c Container, name string) string {
	return filepath.Join(v.dir(c), name)
}
