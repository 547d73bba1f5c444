package evfs

import (
	"crypto/rand"
	"fmt"
)

// DEK wrapping. A wrapped DEK is stored inline with its random nonce:
//
//	[nonce: 12][ciphertext: 32][tag: 16]
//
// The scope identity is the AEAD associated data, so a wrapped key moved
// to a different scope entry fails to unwrap.

const (
	wrapNonceLen = 12

	// WrappedDEKSize is the on-disk size of one wrapped DEK.
	WrappedDEKSize = wrapNonceLen + 32 + TagLen
)

// wrapDEK seals a plaintext DEK under the KEK with a random nonce.
func wrapDEK(dek DEK, kek KEK, scope KeyScope) ([WrappedDEKSize]byte, error) {
	var out [WrappedDEKSize]byte

	aead, err := newAEAD(kek[:])
	if err != nil {
		return out, err
	}

	if _, err := rand.Read(out[:wrapNonceLen]); err != nil {
		return out, fmt.Errorf("failed to generate wrap nonce: %w", err)
	}

	aead.Seal(out[wrapNonceLen:wrapNonceLen], out[:wrapNonceLen], dek[:], scope.id())
	return out, nil
}

// unwrapDEK verifies and opens a wrapped DEK. A tag mismatch means the
// wrong KEK or a corrupt sidecar.
func unwrapDEK(wrapped []byte, kek KEK, scope KeyScope) (DEK, error) {
	var dek DEK
	if len(wrapped) != WrappedDEKSize {
		return dek, fmt.Errorf("%w: wrapped DEK must be %d bytes, got %d",
			ErrKeyringCorrupt, WrappedDEKSize, len(wrapped))
	}

	aead, err := newAEAD(kek[:])
	if err != nil {
		return dek, err
	}

	pt, err := aead.Open(nil, wrapped[:wrapNonceLen], wrapped[wrapNonceLen:], scope.id())
	if err != nil {
		return dek, fmt.Errorf("%w: DEK unwrap for scope %q", ErrKeyringCorrupt, scope.String())
	}
	copy(dek[:], pt)
	return dek, nil
}
