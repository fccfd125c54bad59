// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package vaultengine

import (
	"encoding/binary"

	"github.com/rkhiriev/vaultengine/internal/cryptoprimitives"
	"github.com/rkhiriev/vaultengine/internal/fec"
	"github.com/rkhiriev/vaultengine/internal/header"
	"github.com/rkhiriev/vaultengine/internal/vaulterrors"
)

// magicKPTW identifies a vault container file, little-endian "KPTW".
const magicKPTW uint32 = 0x4B505457

const (
	versionV1 uint32 = 1
	versionV2 uint32 = 2

	headerFlagFEC  = 1 << 0
	payloadFlagFEC = 1 << 0

	// minHeaderFECRedundancyPercent is the effective floor the engine
	// enforces for header redundancy regardless of the configured value:
	// the header is small and critical enough that under-provisioning its
	// own redundancy is never worth the space saved.
	minHeaderFECRedundancyPercent = 20

	dataSaltSize = 32
	dataIVSize   = cryptoprimitives.GCMNonceSize
)

// v2EnvelopeFixedSize is the size of the fixed fields preceding the
// FEC-encoded header: magic(4) + version(4) + kdf_iterations(4) +
// header_size(4) + header_flags(1) + header_fec_percent(1) +
// payload_flags(1) + payload_fec_percent(1).
const v2EnvelopeFixedSize = 4 + 4 + 4 + 4 + 1 + 1 + 1 + 1

// encodeV2 serializes header h and the already-AES-GCM-encrypted payload
// into a complete V2 container file. redundancyPercent is clamped up to
// minHeaderFECRedundancyPercent before FEC-encoding the header. When
// payloadFECEnabled is true, the ciphertext itself is additionally wrapped
// in its own Reed-Solomon frame at payloadRedundancyPercent (spec §3's
// "optional payload FEC"), independent of the mandatory header FEC.
func encodeV2(h *header.VaultHeader, kdfIterations uint32, redundancyPercent uint8, dataSalt, dataIV, ciphertext []byte, payloadFECEnabled bool, payloadRedundancyPercent uint8) ([]byte, error) {
	if redundancyPercent < minHeaderFECRedundancyPercent {
		redundancyPercent = minHeaderFECRedundancyPercent
	}

	plainHeader, err := h.Encode()
	if err != nil {
		return nil, err
	}
	fecHeader, err := fec.Encode(plainHeader, redundancyPercent)
	if err != nil {
		return nil, vaulterrors.Wrap(vaulterrors.KindFECDecodingFailed, err)
	}

	payloadBlock := ciphertext
	var payloadFlags byte
	if payloadFECEnabled {
		encoded, err := fec.Encode(ciphertext, payloadRedundancyPercent)
		if err != nil {
			return nil, vaulterrors.Wrap(vaulterrors.KindFECDecodingFailed, err)
		}
		payloadBlock = encoded
		payloadFlags = payloadFlagFEC
	}

	out := make([]byte, 0, v2EnvelopeFixedSize+len(fecHeader)+dataSaltSize+dataIVSize+len(payloadBlock))
	var fixed [v2EnvelopeFixedSize]byte
	binary.LittleEndian.PutUint32(fixed[0:4], magicKPTW)
	binary.LittleEndian.PutUint32(fixed[4:8], versionV2)
	binary.LittleEndian.PutUint32(fixed[8:12], kdfIterations)
	binary.LittleEndian.PutUint32(fixed[12:16], uint32(len(fecHeader)))
	fixed[16] = headerFlagFEC
	fixed[17] = redundancyPercent
	fixed[18] = payloadFlags
	fixed[19] = payloadRedundancyPercent

	out = append(out, fixed[:]...)
	out = append(out, fecHeader...)
	out = append(out, dataSalt...)
	out = append(out, dataIV...)
	out = append(out, payloadBlock...)
	return out, nil
}

// decodedV2Envelope holds the parsed fields of a V2 container file.
type decodedV2Envelope struct {
	KDFIterations uint32
	Header        *header.VaultHeader
	DataSalt      []byte
	DataIV        []byte
	Ciphertext    []byte
}

// decodeV2 parses and FEC-repairs a V2 container file produced by
// [encodeV2].
func decodeV2(raw []byte) (*decodedV2Envelope, error) {
	if len(raw) < v2EnvelopeFixedSize {
		return nil, vaulterrors.New(vaulterrors.KindCorrupted)
	}
	magic := binary.LittleEndian.Uint32(raw[0:4])
	if magic != magicKPTW {
		return nil, vaulterrors.New(vaulterrors.KindCorrupted)
	}
	version := binary.LittleEndian.Uint32(raw[4:8])
	if version != versionV2 {
		return nil, vaulterrors.New(vaulterrors.KindUnsupportedVersion)
	}

	kdfIterations := binary.LittleEndian.Uint32(raw[8:12])
	headerSize := binary.LittleEndian.Uint32(raw[12:16])
	headerFlags := raw[16]
	payloadFlags := raw[18]

	rest := raw[v2EnvelopeFixedSize:]
	if uint32(len(rest)) < headerSize {
		return nil, vaulterrors.New(vaulterrors.KindCorrupted)
	}
	fecHeader := rest[:headerSize]
	rest = rest[headerSize:]

	var plainHeader []byte
	if headerFlags&headerFlagFEC != 0 {
		decoded, err := fec.Decode(fecHeader)
		if err != nil {
			return nil, vaulterrors.Wrap(vaulterrors.KindFECDecodingFailed, err)
		}
		plainHeader = decoded
	} else {
		plainHeader = fecHeader
	}

	h, err := header.DecodeVaultHeader(plainHeader)
	if err != nil {
		return nil, err
	}

	if len(rest) < dataSaltSize+dataIVSize {
		return nil, vaulterrors.New(vaulterrors.KindCorrupted)
	}
	dataSalt := append([]byte(nil), rest[:dataSaltSize]...)
	rest = rest[dataSaltSize:]
	dataIV := append([]byte(nil), rest[:dataIVSize]...)
	rest = rest[dataIVSize:]

	var ciphertext []byte
	if payloadFlags&payloadFlagFEC != 0 {
		decoded, err := fec.Decode(rest)
		if err != nil {
			return nil, vaulterrors.Wrap(vaulterrors.KindFECDecodingFailed, err)
		}
		ciphertext = decoded
	} else {
		ciphertext = append([]byte(nil), rest...)
	}

	return &decodedV2Envelope{
		KDFIterations: kdfIterations,
		Header:        h,
		DataSalt:      dataSalt,
		DataIV:        dataIV,
		Ciphertext:    ciphertext,
	}, nil
}
