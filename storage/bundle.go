package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"

	"github.com/mholt/archives"

	"github.com/ghyeongl/scribe-relay/logging"
)

// WriteBundle streams a zip archive of the given blobs to w. Entries are
// named by the last element of their key.
func (b *BlobStore) WriteBundle(ctx context.Context, w io.Writer, objs []Object) error {
	files := make([]archives.FileInfo, 0, len(objs))
	for _, o := range objs {
		key, err := cleanKey(o.Key)
		if err != nil {
			return err
		}
		info, err := b.fs.Stat(key)
		if err != nil {
			return fmt.Errorf("stat %s: %w", key, err)
		}
		files = append(files, archives.FileInfo{
			FileInfo:      info,
			NameInArchive: path.Base(key),
			Open: func() (fs.File, error) {
				return b.fs.Open(key)
			},
		})
	}

	if err := (archives.Zip{}).Archive(ctx, w, files); err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	logging.Sub("blob").Debug("bundle written", "entries", len(files))
	return nil
}
