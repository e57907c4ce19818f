package biz

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"sort"
	"time"
)

// zipEpoch is the fixed timestamp stamped on every archive entry so
// that bundling the same blobs always yields identical bytes.
var zipEpoch = time.Unix(0, 0).UTC()

// WriteBundle streams a multi-file share as a zip archive. Entries are
// ordered by file name with the storage key as tie-break, and entry
// metadata is pinned, so the output is deterministic for a given set
// of blobs.
func WriteBundle(ctx context.Context, store ArtifactStore, blobs []Blob, w io.Writer) error {
	sorted := make([]Blob, len(blobs))
	copy(sorted, blobs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].FileName != sorted[j].FileName {
			return sorted[i].FileName < sorted[j].FileName
		}
		return sorted[i].Key < sorted[j].Key
	})

	zw := zip.NewWriter(w)
	for _, blob := range sorted {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return err
		}
		header := &zip.FileHeader{
			Name:     blob.FileName,
			Method:   zip.Deflate,
			Modified: zipEpoch,
		}
		entry, err := zw.CreateHeader(header)
		if err != nil {
			zw.Close()
			return fmt.Errorf("create archive entry %q: %w", blob.FileName, err)
		}
		rc, err := store.Open(ctx, blob.Key)
		if err != nil {
			zw.Close()
			return fmt.Errorf("open blob %s: %w", blob.Key, err)
		}
		_, err = io.Copy(entry, rc)
		rc.Close()
		if err != nil {
			zw.Close()
			return fmt.Errorf("bundle blob %s: %w", blob.Key, err)
		}
	}
	return zw.Close()
}
