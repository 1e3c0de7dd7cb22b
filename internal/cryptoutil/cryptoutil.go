// cc4me - federated e2e encrypted messaging fabric for autonomous agents
// Copyright (C) 2026 cc4me-project
//
// This file is part of cc4me.
//
// cc4me is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// cc4me is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with cc4me. If not, see <https://www.gnu.org/licenses/>.

// Package cryptoutil implements the hybrid Ed25519/X25519/AES-256-GCM
// construction the wire envelope is built on: Ed25519 sign/verify, the
// birational Ed25519→X25519 map, ECDH+HKDF key derivation, and the AEAD
// seal/open primitives.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"sort"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/hkdf"
)

// EncodePublicKey base64-encodes a raw 32-byte Ed25519 public key for
// storage and wire transport.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

// DecodePublicKey reverses EncodePublicKey, rejecting anything that
// doesn't decode to exactly 32 bytes.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("cryptoutil: public key has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// hkdfSalt is fixed, per the wire format: every pair of agents derives
// the same shared key regardless of who initiates.
const hkdfSalt = "cc4me-e2e-v1"

const nonceSize = 12 // 96-bit GCM nonce

// Sign produces a pure-Ed25519 signature (no prehash) over message.
func Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// Verify reports whether sig is a valid Ed25519 signature over message
// under pub.
func Verify(pub ed25519.PublicKey, message, sig []byte) bool {
	return ed25519.Verify(pub, message, sig)
}

// Ed25519PublicToX25519 converts an Ed25519 public key to its Montgomery
// (X25519) form via the birational map: clear the sign bit, decompress
// the Edwards point, and take its u-coordinate.
func Ed25519PublicToX25519(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("cryptoutil: bad ed25519 public key length %d", len(pub))
	}
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: invalid ed25519 public key: %w", err)
	}
	return p.BytesMontgomery(), nil
}

// Ed25519PrivateToX25519 converts an Ed25519 private key to the clamped
// X25519 scalar per RFC 7748: SHA-512(seed)[0:32] with the low three
// bits of the first byte cleared, the high bit of the last byte cleared,
// and the second-highest bit of the last byte set.
func Ed25519PrivateToX25519(priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("cryptoutil: bad ed25519 private key length %d", len(priv))
	}
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	scalar := make([]byte, 32)
	copy(scalar, h[:32])
	return scalar, nil
}

// DeriveSharedKey computes the 32-byte AES key both sender and recipient
// derive for a given (sender, recipient) pair: X25519 ECDH between
// senderPriv (an Ed25519 seed, converted) and recipientPub (an Ed25519
// public key, converted), followed by HKDF-SHA256 with a fixed salt and
// info built from the two agent names sorted ascending — so either side
// of the conversation lands on the same key regardless of role.
func DeriveSharedKey(senderPriv ed25519.PrivateKey, recipientPub ed25519.PublicKey, sender, recipient string) ([]byte, error) {
	xPriv, err := Ed25519PrivateToX25519(senderPriv)
	if err != nil {
		return nil, err
	}
	xPeerPub, err := Ed25519PublicToX25519(recipientPub)
	if err != nil {
		return nil, err
	}
	return deriveFromX25519(xPriv, xPeerPub, sender, recipient)
}

func deriveFromX25519(xPriv, xPeerPub []byte, sender, recipient string) ([]byte, error) {
	curve := ecdh.X25519()
	priv, err := curve.NewPrivateKey(xPriv)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: invalid x25519 private scalar: %w", err)
	}
	peerPub, err := curve.NewPublicKey(xPeerPub)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: invalid x25519 peer public key: %w", err)
	}

	raw, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: ecdh failed: %w", err)
	}

	var zero [32]byte
	if subtle.ConstantTimeCompare(raw, zero[:]) == 1 {
		return nil, fmt.Errorf("cryptoutil: low-order or identity shared point")
	}

	info := sortedInfo(sender, recipient)
	h := hkdf.New(sha256.New, raw, []byte(hkdfSalt), []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("cryptoutil: hkdf expand failed: %w", err)
	}
	return key, nil
}

// sortedInfo joins the two agent names ascending, separated by ':', so
// sender and recipient compute identical HKDF info regardless of which
// side is building the envelope.
func sortedInfo(sender, recipient string) string {
	pair := []string{sender, recipient}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}

// Seal AEAD-encrypts plaintext under key with aad as associated data,
// returning a random 96-bit nonce and the ciphertext with the 16-byte GCM
// tag appended.
func Seal(key, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoutil: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoutil: new gcm: %w", err)
	}
	nonce = make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("cryptoutil: nonce generation: %w", err)
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, aad)
	return nonce, ciphertext, nil
}

// Open reverses Seal; a GCM tag mismatch or malformed nonce returns an error.
func Open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new gcm: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("cryptoutil: bad nonce size %d", len(nonce))
	}
	return aead.Open(nil, nonce, ciphertext, aad)
}
