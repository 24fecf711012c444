// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var (
	zstdDecoderPool = sync.Pool{
		New: func() any {
			dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
			return dec
		},
	}
	lz4ReaderPool = sync.Pool{
		New: func() any { return lz4.NewReader(nil) },
	}
	s2ReaderPool = sync.Pool{
		New: func() any { return s2.NewReader(nil) },
	}
)

// NewReader wraps r to decompress data as it's read.
// The returned ReadCloser must be closed when done; it does not close r.
func NewReader(algo Algorithm, r io.Reader) (io.ReadCloser, error) {
	switch algo {
	case None, "":
		return io.NopCloser(r), nil
	case LZ4:
		lr := lz4ReaderPool.Get().(*lz4.Reader)
		lr.Reset(r)
		return &pooledLZ4Reader{Reader: lr}, nil
	case ZSTD:
		dec := zstdDecoderPool.Get().(*zstd.Decoder)
		if err := dec.Reset(r); err != nil {
			zstdDecoderPool.Put(dec)
			return nil, fmt.Errorf("zstd reset: %w", err)
		}
		return &pooledZSTDReader{Decoder: dec}, nil
	case S2:
		sr := s2ReaderPool.Get().(*s2.Reader)
		sr.Reset(r)
		return &pooledS2Reader{Reader: sr}, nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", algo)
	}
}

// NewWriter wraps w to compress data as it's written.
// The returned WriteCloser must be closed to flush the final frame; it does
// not close w.
func NewWriter(algo Algorithm, w io.Writer) (io.WriteCloser, error) {
	switch algo {
	case None, "":
		return nopWriteCloser{w}, nil
	case LZ4:
		return lz4.NewWriter(w), nil
	case ZSTD:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return enc, nil
	case S2:
		return s2.NewWriter(w, s2.WriterConcurrency(1)), nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", algo)
	}
}

type pooledZSTDReader struct {
	*zstd.Decoder
}

func (r *pooledZSTDReader) Read(p []byte) (int, error) {
	return r.Decoder.Read(p)
}

func (r *pooledZSTDReader) Close() error {
	zstdDecoderPool.Put(r.Decoder)
	return nil
}

type pooledLZ4Reader struct {
	*lz4.Reader
}

func (r *pooledLZ4Reader) Close() error {
	r.Reset(nil)
	lz4ReaderPool.Put(r.Reader)
	return nil
}

type pooledS2Reader struct {
	*s2.Reader
}

func (r *pooledS2Reader) Close() error {
	r.Reset(nil)
	s2ReaderPool.Put(r.Reader)
	return nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
