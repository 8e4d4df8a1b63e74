package globus

import (
	"context"
	"os"

	"github.com/ncw/directio"

	"github.com/epcced/digs"
)

// blockSize is the alignment size O_DIRECT requires for both buffers and
// offsets.
const blockSize = directio.BlockSize

// directWriter opens a file with O_DIRECT when the platform supports it,
// used for large puts so a disk-saturating copy doesn't evict the page
// cache for every other node process sharing the box. Grounded on the
// teacher's fs/directio.go.
type directWriter struct {
	file *os.File
}

func openDirectWrite(ctx context.Context, path string) (*directWriter, error) {
	var f *os.File
	err := digs.Retry(ctx, func(context.Context) error {
		var e error
		f, e = directio.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		return e
	}, nil)
	if err != nil {
		return nil, err
	}
	return &directWriter{file: f}, nil
}

func (w *directWriter) writeAt(block []byte, offset int64) (int, error) {
	return w.file.WriteAt(block, offset)
}

func (w *directWriter) close() error {
	return w.file.Close()
}

// alignedBlock returns a buffer aligned to blockSize, suitable for
// WriteAt/ReadAt against an O_DIRECT file.
func alignedBlock(size int) []byte {
	return directio.AlignedBlock(size)
}
