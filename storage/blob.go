// Package storage keeps chunk payloads as opaque blobs and watches a drop
// directory for chunks delivered out of band.
package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maruel/natural"
	"github.com/spf13/afero"
	"golang.org/x/crypto/blake2b"

	"github.com/ghyeongl/scribe-relay/logging"
	"github.com/ghyeongl/scribe-relay/metrics"
)

const copyChunkSize = 256 * 1024

// ErrInvalidKey is returned for keys that are empty or escape the store root.
var ErrInvalidKey = errors.New("invalid blob key")

// Object describes a stored blob.
type Object struct {
	Key      string    `json:"key"`
	Size     int64     `json:"size"`
	Checksum string    `json:"checksum"`
	ModTime  time.Time `json:"modTime"`
}

// BlobStore writes and reads blobs on an afero filesystem. Keys are
// slash-separated paths relative to the filesystem root.
type BlobStore struct {
	fs      afero.Fs
	metrics *metrics.Metrics
}

// NewBlobStore creates a store on fsys.
func NewBlobStore(fsys afero.Fs, m *metrics.Metrics) *BlobStore {
	return &BlobStore{fs: fsys, metrics: m}
}

// NewDiskBlobStore creates a store rooted at dir, creating it if needed.
func NewDiskBlobStore(dir string, m *metrics.Metrics) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return NewBlobStore(afero.NewBasePathFs(afero.NewOsFs(), dir), m), nil
}

// ChunkKey returns a fresh key for a chunk payload. Repeated ordinals get
// distinct keys so no upload overwrites another.
func ChunkKey(sessionID string, ordinal int, ext string) (string, error) {
	if err := checkSegment(sessionID); err != nil {
		return "", err
	}
	ext = strings.ToLower(filepath.Ext("x" + ext))
	if len(ext) > 8 {
		ext = ""
	}
	return fmt.Sprintf("chunks/%s/%d_%s%s", sessionID, ordinal, uuid.NewString()[:8], ext), nil
}

// SessionPrefix is the key prefix holding a session's chunks.
func SessionPrefix(sessionID string) (string, error) {
	if err := checkSegment(sessionID); err != nil {
		return "", err
	}
	return "chunks/" + sessionID, nil
}

func checkSegment(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return nil
}

func cleanKey(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return clean, nil
}

// Put streams r into key. The blob is written to a temporary file and renamed
// into place, so readers never see a partial payload.
func (b *BlobStore) Put(ctx context.Context, key string, r io.Reader) (Object, error) {
	l := logging.Sub("blob")
	key, err := cleanKey(key)
	if err != nil {
		return Object{}, err
	}
	if err := b.fs.MkdirAll(path.Dir(key), 0750); err != nil {
		return Object{}, fmt.Errorf("mkdir blob parent: %w", err)
	}

	tmp := key + ".tmp"
	f, err := b.fs.Create(tmp)
	if err != nil {
		return Object{}, fmt.Errorf("create tmp: %w", err)
	}

	h, _ := blake2b.New256(nil)
	size, copyErr := copyContext(ctx, io.MultiWriter(f, h), r)
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		b.fs.Remove(tmp) //nolint:errcheck
		l.Warn("put failed", "key", key, "err", copyErr)
		return Object{}, fmt.Errorf("write blob %s: %w", key, copyErr)
	}
	if err := b.fs.Rename(tmp, key); err != nil {
		b.fs.Remove(tmp) //nolint:errcheck
		return Object{}, fmt.Errorf("rename blob %s: %w", key, err)
	}

	b.metrics.Stored(size)
	obj := Object{Key: key, Size: size, Checksum: hex.EncodeToString(h.Sum(nil)), ModTime: time.Now().UTC()}
	l.Debug("put", "key", key, "size", size)
	return obj, nil
}

func copyContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyChunkSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, err
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

// Open returns a reader for key.
func (b *BlobStore) Open(key string) (afero.File, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	return b.fs.Open(key)
}

// Stat describes a single blob without hashing it.
func (b *BlobStore) Stat(key string) (Object, error) {
	key, err := cleanKey(key)
	if err != nil {
		return Object{}, err
	}
	info, err := b.fs.Stat(key)
	if err != nil {
		return Object{}, err
	}
	return Object{Key: key, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// List returns the blobs under prefix in natural key order, so "2_x" sorts
// before "10_x". Unfinished temporary files are skipped.
func (b *BlobStore) List(prefix string) ([]Object, error) {
	prefix, err := cleanKey(prefix)
	if err != nil {
		return nil, err
	}
	var out []Object
	err = afero.Walk(b.fs, prefix, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		out = append(out, Object{Key: filepath.ToSlash(p), Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sortNatural(out)
	return out, nil
}

func sortNatural(objs []Object) {
	sort.Slice(objs, func(i, j int) bool { return natural.Less(objs[i].Key, objs[j].Key) })
}
