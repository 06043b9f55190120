package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows the algorithm to change without collisions.
const (
	DomainChunk   = "pagegraph/chunk/v1"
	DomainBinding = "pagegraph/binding/v1"
	DomainResult  = "pagegraph/result/v1"
	DomainNode    = "pagegraph/node/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ChunkHash identifies a normalized sub-query by its printed text.
// Two selections that print identically after argument normalization share a hash.
func ChunkHash(normalizedText string) string {
	return hashWithDomain(DomainChunk, []byte(norm.NFC.String(normalizedText)))
}

// BindingDigest computes the digest of the concrete argument values a chunk
// is executed with. Together with the chunk hash it keys the run registry.
func BindingDigest(binding Object) (string, error) {
	canonical, err := MarshalCanonical(binding)
	if err != nil {
		return "", fmt.Errorf("BindingDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainBinding, canonical), nil
}

// ResultHash hashes a serialized query result. Callers must pass canonical
// bytes so that equal results hash equally.
func ResultHash(serialized []byte) string {
	return hashWithDomain(DomainResult, serialized)
}

// ContentDigest computes the digest of a node's fields.
func ContentDigest(fields Object) (string, error) {
	canonical, err := MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("ContentDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainNode, canonical), nil
}

// MustBindingDigest is like BindingDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustBindingDigest(binding Object) string {
	d, err := BindingDigest(binding)
	if err != nil {
		panic(err)
	}
	return d
}

// MustContentDigest is like ContentDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustContentDigest(fields Object) string {
	d, err := ContentDigest(fields)
	if err != nil {
		panic(err)
	}
	return d
}
