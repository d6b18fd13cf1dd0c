package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

var ErrNotFound = errors.New("backup not found")

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*\.zip$`)

// ValidName reports whether name is safe to use as a saved archive name.
func ValidName(name string) bool {
	return validName.MatchString(name)
}

type Info struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Vault keeps saved backup archives.
type Vault interface {
	Put(ctx context.Context, name string, r io.Reader) error
	List(ctx context.Context) ([]Info, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// sortNewestFirst orders archives by name; names embed their timestamp.
func sortNewestFirst(infos []Info) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name > infos[j].Name })
}

// DirVault stores archives in a local directory.
type DirVault struct {
	Dir string
}

func NewDirVault(dir string) (*DirVault, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &DirVault{Dir: dir}, nil
}

func (v *DirVault) Put(ctx context.Context, name string, r io.Reader) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	tmp, err := os.CreateTemp(v.Dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write backup file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close backup file: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(v.Dir, name))
}

func (v *DirVault) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(v.Dir)
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !ValidName(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{Name: e.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
	}
	sortNewestFirst(infos)
	return infos, nil
}

func (v *DirVault) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	f, err := os.Open(filepath.Join(v.Dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return f, err
}
