// Package codec obfuscates and checksums the serialized session blob
// before it reaches local storage.
//
// The at-rest encoding is tamper-detection, not tamper-prevention: the
// storage medium is client-controlled and the XOR pad ships with the
// binary, so the ciphertext is obfuscation rather than confidentiality,
// and the digest is a fast checksum rather than a MAC. Decode fails
// closed: a blob whose digest does not match yields no plaintext at
// all.
package codec

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/minio/crc64nvme"
)

const envelopeVersion = 1

// ErrEncode is returned when the plaintext cannot be encoded.
var ErrEncode = errors.New("codec: encode failed")

// ErrDecode is returned when the stored blob is structurally invalid.
var ErrDecode = errors.New("codec: decode failed")

// ErrIntegrity is returned when the recomputed digest does not match
// the stored one. Callers must treat the whole record as invalid.
var ErrIntegrity = errors.New("codec: integrity check failed")

// Envelope is the persisted unit: the obfuscated blob plus the digest
// computed over the plaintext it decodes to.
type Envelope struct {
	Ciphertext []byte
	Digest     string
}

// Codec encodes and decodes session blobs with a fixed XOR pad.
type Codec struct {
	pad []byte
}

// New creates a Codec with the given pad. The pad only has to be
// non-empty; its secrecy is not load-bearing.
func New(pad []byte) (*Codec, error) {
	if len(pad) == 0 {
		return nil, fmt.Errorf("%w: empty pad", ErrEncode)
	}

	owned := make([]byte, len(pad))
	copy(owned, pad)
	return &Codec{pad: owned}, nil
}

// Encode obfuscates plaintext and computes its integrity digest.
func (c *Codec) Encode(plaintext []byte) (Envelope, error) {
	if len(plaintext) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty plaintext", ErrEncode)
	}

	ciphertext := make([]byte, len(plaintext)+1)
	ciphertext[0] = envelopeVersion
	for i, b := range plaintext {
		ciphertext[i+1] = b ^ c.pad[i%len(c.pad)]
	}

	return Envelope{
		Ciphertext: ciphertext,
		Digest:     Digest(plaintext),
	}, nil
}

// Decode reverses Encode and verifies the digest over the decoded
// plaintext. On mismatch it returns ErrIntegrity and no data.
func (c *Codec) Decode(env Envelope) ([]byte, error) {
	if len(env.Ciphertext) < 2 {
		return nil, fmt.Errorf("%w: truncated blob", ErrDecode)
	}
	if env.Ciphertext[0] != envelopeVersion {
		return nil, fmt.Errorf("%w: unknown envelope version %d", ErrDecode, env.Ciphertext[0])
	}
	if env.Digest == "" {
		return nil, fmt.Errorf("%w: missing digest", ErrIntegrity)
	}

	body := env.Ciphertext[1:]
	plaintext := make([]byte, len(body))
	for i, b := range body {
		plaintext[i] = b ^ c.pad[i%len(c.pad)]
	}

	if Digest(plaintext) != env.Digest {
		return nil, ErrIntegrity
	}

	return plaintext, nil
}

// Digest computes the CRC64-NVME checksum of data, rendered in base 36
// to keep the stored form compact.
func Digest(data []byte) string {
	h := crc64nvme.New()
	h.Write(data)
	return strconv.FormatUint(h.Sum64(), 36)
}
