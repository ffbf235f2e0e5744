// Package stream implements the compression and authenticated
// encryption transforms applied to backup artifacts. Everything works
// on io streams so multi-gigabyte dumps never have to fit in memory.
package stream

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"

	"github.com/andybalholm/brotli"

	"github.com/dbackup/dbackup/internal/domain"
)

// Ext returns the filename suffix a compression mode appends to an
// artifact, or "" for none.
func Ext(mode domain.CompressionMode) string {
	switch mode {
	case domain.CompressionGzip:
		return ".gz"
	case domain.CompressionBrotli:
		return ".br"
	default:
		return ""
	}
}

// NewCompressWriter wraps w with the requested codec. The returned
// writer must be closed to flush the codec's trailer.
func NewCompressWriter(w io.Writer, mode domain.CompressionMode) (io.WriteCloser, error) {
	switch mode {
	case domain.CompressionGzip:
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	case domain.CompressionBrotli:
		return brotli.NewWriterLevel(w, brotli.BestCompression), nil
	case domain.CompressionNone:
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("unknown compression mode: %s", mode)
	}
}

// NewDecompressReader wraps r with the inverse transform of mode.
func NewDecompressReader(r io.Reader, mode domain.CompressionMode) (io.ReadCloser, error) {
	switch mode {
	case domain.CompressionGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gz, nil
	case domain.CompressionBrotli:
		return io.NopCloser(brotli.NewReader(r)), nil
	case domain.CompressionNone:
		return io.NopCloser(r), nil
	default:
		return nil, fmt.Errorf("unknown compression mode: %s", mode)
	}
}

// CompressFile streams sourcePath into destPath under the given mode.
func CompressFile(sourcePath, destPath string, mode domain.CompressionMode) error {
	source, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer source.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}
	defer dest.Close()

	w, err := NewCompressWriter(dest, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(w, source); err != nil {
		w.Close()
		return fmt.Errorf("failed to compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize compression: %w", err)
	}

	return nil
}

// DecompressFile streams sourcePath into destPath, reversing mode.
func DecompressFile(sourcePath, destPath string, mode domain.CompressionMode) error {
	source, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer source.Close()

	r, err := NewDecompressReader(source, mode)
	if err != nil {
		return err
	}
	defer r.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, r); err != nil {
		return fmt.Errorf("failed to decompress: %w", err)
	}

	return nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
