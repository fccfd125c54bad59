// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package fec implements block-based forward error correction over GF(256)
// using Reed-Solomon erasure coding (github.com/klauspost/reedsolomon). The
// codec splits input into fixed-size shards, computes parity shards at the
// requested redundancy percent, and tags every shard (data and parity) with
// a CRC32 footer so [Decode] can localize corruption to individual shards
// and treat them as erasures for reconstruction — the library itself only
// reconstructs shards explicitly marked missing, it does not locate errors
// on its own.
package fec

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/klauspost/reedsolomon"
)

// minShardPayloadSize is the smallest shard payload [Encode] will choose.
// Smaller shards localize corruption more precisely (a single flipped bit
// only poisons its own shard) at the cost of more per-shard CRC overhead;
// larger inputs grow the shard payload instead of the shard count, keeping
// total shards within the library's 256-shard ceiling.
const minShardPayloadSize = 32

// crcFooterSize is the size of the per-shard integrity footer.
const crcFooterSize = 4

// minRedundancyPercent and maxRedundancyPercent bound the redundancy percent
// accepted by [Encode], per spec §4.3.
const (
	minRedundancyPercent = 5
	maxRedundancyPercent = 50
)

// maxTotalShards is the hard ceiling github.com/klauspost/reedsolomon
// imposes: data shards + parity shards must not exceed 256.
const maxTotalShards = 256

// Encode splits data into shards and produces parity shards at the given
// redundancy percent, which must lie in [5, 50]; a value outside that range
// is rejected with an error, not clamped. For the header, the vaultengine
// package's encodeV2 raises the percent to its 20% floor (spec §4.3) before
// calling this. Returns the encoded block: a small fixed header (original size,
// redundancy percent, shard counts, shard length) followed by the
// concatenated data and parity shards.
func Encode(data []byte, redundancyPercent uint8) ([]byte, error) {
	if redundancyPercent < minRedundancyPercent || redundancyPercent > maxRedundancyPercent {
		return nil, fmt.Errorf("fec: redundancy percent %d out of range [%d, %d]", redundancyPercent, minRedundancyPercent, maxRedundancyPercent)
	}

	originalSize := len(data)

	// Cap data shards at maxTotalShards/2 so there is always room left for
	// at least an equal number of parity shards; grow the shard payload
	// size instead of the shard count once the input exceeds that.
	const maxDataShards = maxTotalShards / 2
	dataShards := (originalSize + minShardPayloadSize - 1) / minShardPayloadSize
	if dataShards == 0 {
		dataShards = 1
	}
	shardPayloadSize := minShardPayloadSize
	if dataShards > maxDataShards {
		dataShards = maxDataShards
		shardPayloadSize = (originalSize + dataShards - 1) / dataShards
		if shardPayloadSize == 0 {
			shardPayloadSize = 1
		}
	}

	parityShards := (dataShards*int(redundancyPercent) + 99) / 100
	if parityShards == 0 {
		parityShards = 1
	}
	if dataShards+parityShards > maxTotalShards {
		parityShards = maxTotalShards - dataShards
	}
	if parityShards < 1 {
		return nil, fmt.Errorf("fec: input too large for %d%% redundancy within %d total shards", redundancyPercent, maxTotalShards)
	}

	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("fec: new encoder: %w", err)
	}

	shardLen := shardPayloadSize + crcFooterSize
	shards := make([][]byte, dataShards+parityShards)
	for i := range shards {
		shards[i] = make([]byte, shardLen)
	}

	for i := 0; i < dataShards; i++ {
		start := i * shardPayloadSize
		end := start + shardPayloadSize
		if end > originalSize {
			end = originalSize
		}
		if start < originalSize {
			copy(shards[i][:shardPayloadSize], data[start:end])
		}
		stampCRC(shards[i], shardPayloadSize)
	}

	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("fec: encode: %w", err)
	}
	for i := dataShards; i < dataShards+parityShards; i++ {
		stampCRC(shards[i], shardPayloadSize)
	}

	out := make([]byte, 0, 14+len(shards)*shardLen)
	var hdr [14]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(originalSize))
	hdr[4] = redundancyPercent
	binary.BigEndian.PutUint16(hdr[5:7], uint16(dataShards))
	binary.BigEndian.PutUint16(hdr[7:9], uint16(parityShards))
	binary.BigEndian.PutUint32(hdr[9:13], uint32(shardLen))
	hdr[13] = 0 // reserved
	out = append(out, hdr[:]...)
	for _, s := range shards {
		out = append(out, s...)
	}

	return out, nil
}

// Decode reverses [Encode]. Shards whose CRC32 footer does not match their
// payload are treated as erasures and reconstructed from parity. Returns
// the original data, or an error if more shards fail their CRC check than
// there are parity shards, or the encoded block is malformed.
func Decode(encoded []byte) ([]byte, error) {
	if len(encoded) < 14 {
		return nil, fmt.Errorf("fec: encoded block too short")
	}

	originalSize := int(binary.BigEndian.Uint32(encoded[0:4]))
	dataShards := int(binary.BigEndian.Uint16(encoded[5:7]))
	parityShards := int(binary.BigEndian.Uint16(encoded[7:9]))
	shardLen := int(binary.BigEndian.Uint32(encoded[9:13]))

	if dataShards <= 0 || parityShards <= 0 || shardLen <= crcFooterSize {
		return nil, fmt.Errorf("fec: malformed encoded header")
	}

	body := encoded[14:]
	totalShards := dataShards + parityShards
	if len(body) != totalShards*shardLen {
		return nil, fmt.Errorf("fec: encoded body length mismatch")
	}

	shardPayloadSize := shardLen - crcFooterSize

	shards := make([][]byte, totalShards)
	erasures := 0
	for i := 0; i < totalShards; i++ {
		shard := body[i*shardLen : (i+1)*shardLen]
		if verifyCRC(shard, shardPayloadSize) {
			shards[i] = append([]byte(nil), shard...)
		} else {
			shards[i] = nil
			erasures++
		}
	}

	if erasures > parityShards {
		return nil, fmt.Errorf("fec: %d corrupted shards exceed recoverable bound of %d", erasures, parityShards)
	}

	if erasures > 0 {
		enc, err := reedsolomon.New(dataShards, parityShards)
		if err != nil {
			return nil, fmt.Errorf("fec: new encoder: %w", err)
		}
		if err := enc.Reconstruct(shards); err != nil {
			return nil, fmt.Errorf("fec: reconstruct: %w", err)
		}
	}

	out := make([]byte, 0, originalSize)
	for i := 0; i < dataShards && len(out) < originalSize; i++ {
		remaining := originalSize - len(out)
		take := shardPayloadSize
		if take > remaining {
			take = remaining
		}
		out = append(out, shards[i][:take]...)
	}
	if len(out) != originalSize {
		return nil, fmt.Errorf("fec: reassembled size %d does not match original size %d", len(out), originalSize)
	}

	return out, nil
}

func stampCRC(shard []byte, shardPayloadSize int) {
	sum := crc32.ChecksumIEEE(shard[:shardPayloadSize])
	binary.BigEndian.PutUint32(shard[shardPayloadSize:], sum)
}

func verifyCRC(shard []byte, shardPayloadSize int) bool {
	want := binary.BigEndian.Uint32(shard[shardPayloadSize:])
	got := crc32.ChecksumIEEE(shard[:shardPayloadSize])
	return want == got
}
