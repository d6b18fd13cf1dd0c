// Package backup packs database snapshots into downloadable archives,
// unpacks uploaded ones and keeps saved archives in a Vault.
package backup

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"worklog/crypto"
	"worklog/db"
)

// EntryName is the name of the database file inside an archive.
const EntryName = "app.db"

// MaxArchiveSize bounds uploads and the unpacked database.
const MaxArchiveSize = 256 << 20

var (
	ErrInvalidArchive = errors.New("unrecognised backup file")
	ErrPassphrase     = errors.New("backup is sealed with a different passphrase")
)

var zipMagic = []byte("PK\x03\x04")

// Codec converts between a raw database snapshot and the archive handed to
// administrators. With a passphrase the archive is sealed.
type Codec struct {
	Passphrase string
}

// FileName is the download name of an archive taken at t.
func FileName(t time.Time) string {
	return "worklog_backup_" + t.UTC().Format("20060102_150405") + ".zip"
}

func (c Codec) Encode(w io.Writer, snapshot io.Reader, modified time.Time) error {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     EntryName,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("create archive entry: %w", err)
	}
	if _, err := io.Copy(fw, snapshot); err != nil {
		return fmt.Errorf("write archive entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}

	out := buf.Bytes()
	if c.Passphrase != "" {
		if out, err = crypto.Seal(out, c.Passphrase); err != nil {
			return fmt.Errorf("seal archive: %w", err)
		}
	}
	_, err = w.Write(out)
	return err
}

// Decode writes the database contained in data to dst. data may be a sealed
// archive, a plain archive, or a bare database file.
func (c Codec) Decode(data []byte, dst io.Writer) error {
	if crypto.IsSealed(data) {
		if c.Passphrase == "" {
			return ErrPassphrase
		}
		plain, err := crypto.Open(data, c.Passphrase)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPassphrase, err)
		}
		data = plain
	}

	switch {
	case bytes.HasPrefix(data, zipMagic):
		return unzip(data, dst)
	case bytes.HasPrefix(data, db.Header):
		_, err := dst.Write(data)
		return err
	default:
		return ErrInvalidArchive
	}
}

func unzip(data []byte, dst io.Writer) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	var found *zip.File
	for _, f := range zr.File {
		if f.Name == EntryName {
			found = f
			break
		}
		if found == nil && strings.HasSuffix(f.Name, ".db") && !strings.Contains(f.Name, "/") {
			found = f
		}
	}
	if found == nil {
		return fmt.Errorf("%w: no %s in archive", ErrInvalidArchive, EntryName)
	}

	rc, err := found.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer rc.Close()

	n, err := io.Copy(dst, io.LimitReader(rc, MaxArchiveSize+1))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if n > MaxArchiveSize {
		return fmt.Errorf("%w: database larger than %d bytes", ErrInvalidArchive, MaxArchiveSize)
	}
	return nil
}
