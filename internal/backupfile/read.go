// Package backupfile reads backup documents from disk, transparently decompressing
// gzip, zstd and lz4 archives.
package backupfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the container a backup arrived in.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ErrTooLarge is returned when the decompressed document exceeds the read limit.
var ErrTooLarge = errors.New("backup exceeds size limit")

var magics = []struct {
	prefix []byte
	kind   Compression
}{
	{[]byte{0x1f, 0x8b}, CompressionGzip},
	{[]byte{0x28, 0xb5, 0x2f, 0xfd}, CompressionZstd},
	{[]byte{0x04, 0x22, 0x4d, 0x18}, CompressionLZ4},
}

// ReadFile reads path, or stdin when path is "-".
func ReadFile(path string, limit int64) ([]byte, Compression, error) {
	if path == "-" {
		return Read(os.Stdin, limit)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, CompressionNone, err
	}
	defer f.Close()
	return Read(f, limit)
}

// Read returns at most limit decompressed bytes from r.
func Read(r io.Reader, limit int64) ([]byte, Compression, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(4)
	kind := detect(head)

	var src io.Reader = br
	switch kind {
	case CompressionGzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, kind, fmt.Errorf("open gzip stream: %w", err)
		}
		defer zr.Close()
		src = zr
	case CompressionZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, kind, fmt.Errorf("open zstd stream: %w", err)
		}
		defer zr.Close()
		src = zr
	case CompressionLZ4:
		src = lz4.NewReader(br)
	}

	data, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		return nil, kind, fmt.Errorf("read %s backup: %w", kind, err)
	}
	if int64(len(data)) > limit {
		return nil, kind, ErrTooLarge
	}
	return data, kind, nil
}

func detect(head []byte) Compression {
	for _, m := range magics {
		if bytes.HasPrefix(head, m.prefix) {
			return m.kind
		}
	}
	return CompressionNone
}
