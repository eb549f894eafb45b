// Package compress implements the generic "archive_compression" codec used
// by DataManager when transferring object payloads. The domain-specific
// field compressors named in the session parameters (zfp, SZ, BigWhoop)
// remain external per spec §4.6; this package only handles the generic
// archive-level mode.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package compress

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v3"

	"github.com/vistledev/vistle-manager/internal/config"
)

// Compress encodes src according to mode. CompressionNone returns src as-is
// (no copy); callers must not mutate the returned slice in that case.
func Compress(mode config.CompressionMode, speed int, src []byte) ([]byte, error) {
	if mode == config.CompressionNone || len(src) == 0 {
		return src, nil
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if speed > 0 {
		w.Header.CompressionLevel = speed
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. mode must match what the sender used.
func Decompress(mode config.CompressionMode, src []byte) ([]byte, error) {
	if mode == config.CompressionNone || len(src) == 0 {
		return src, nil
	}
	r := lz4.NewReader(bytes.NewReader(src))
	return io.ReadAll(r)
}
