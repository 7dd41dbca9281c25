// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"
)

// Blob layout:
//
//	[4]  magic "APRF"
//	[1]  format version
//	[32] blake3 digest of the JSON payload
//	[..] zstd-compressed JSON payload
const (
	blobMagic      = "APRF"
	blobVersion    = 1
	digestSize     = 32
	blobHeaderSize = len(blobMagic) + 1 + digestSize
)

// Encode serializes p into a compressed blob.
//
// Outputs:
//
//	[]byte - The blob.
//	string - Hex blake3 digest of the uncompressed payload.
//	error - Non-nil if marshaling or compression fails.
func Encode(p *Profile) ([]byte, string, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, "", fmt.Errorf("marshal profile: %w", err)
	}
	digest := blake3.Sum256(payload)

	var buf bytes.Buffer
	buf.WriteString(blobMagic)
	buf.WriteByte(blobVersion)
	buf.Write(digest[:])

	encoder, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, "", fmt.Errorf("creating zstd encoder: %w", err)
	}
	if _, err := encoder.Write(payload); err != nil {
		encoder.Close()
		return nil, "", fmt.Errorf("compressing: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, "", fmt.Errorf("closing encoder: %w", err)
	}
	return buf.Bytes(), hex.EncodeToString(digest[:]), nil
}

// Decode parses a blob produced by Encode and verifies its digest.
//
// Outputs:
//
//	*Profile - The decoded profile.
//	string - Hex digest of the payload.
//	error - ErrCorrupt, wrapped with the failing step.
func Decode(blob []byte) (*Profile, string, error) {
	if len(blob) < blobHeaderSize || string(blob[:len(blobMagic)]) != blobMagic {
		return nil, "", fmt.Errorf("%w: missing header", ErrCorrupt)
	}
	if v := blob[len(blobMagic)]; v != blobVersion {
		return nil, "", fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	want := blob[len(blobMagic)+1 : blobHeaderSize]

	decoder, err := zstd.NewReader(bytes.NewReader(blob[blobHeaderSize:]))
	if err != nil {
		return nil, "", fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	payload, err := io.ReadAll(decoder)
	if err != nil {
		return nil, "", fmt.Errorf("%w: decompressing: %v", ErrCorrupt, err)
	}

	got := blake3.Sum256(payload)
	if !bytes.Equal(got[:], want) {
		return nil, "", fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}

	var p Profile
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, "", fmt.Errorf("%w: unmarshal: %v", ErrCorrupt, err)
	}
	return &p, hex.EncodeToString(got[:]), nil
}
