package evfs

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// The page codec encrypts and decrypts single database pages in place.
//
// Page layout after encryption:
//
//	[ciphertext payload: P-R][AEAD tag: 16][marker: "EVFSv1"][zero pad: R-22]
//
// The deterministic nonce is safe because DEKs are random and never
// reused across databases, and the page number is unique within one.

// noncePrefix domain-separates page encryption from key wrapping, which
// uses random nonces.
var noncePrefix = [4]byte{'E', 'V', 'F', 'S'}

// DecryptResult reports what DecryptPage found in the page buffer.
type DecryptResult int

const (
	// PagePlaintext means the page carried no encryption marker and was
	// left untouched.
	PagePlaintext DecryptResult = iota

	// PageDecrypted means the page verified and was decrypted in place.
	PageDecrypted
)

// pageNonce derives the 12-byte AEAD nonce for a page:
// 4 bytes "EVFS" followed by the little-endian page number.
func pageNonce(pageNo int64) [12]byte {
	var n [12]byte
	copy(n[:4], noncePrefix[:])
	binary.LittleEndian.PutUint64(n[4:], uint64(pageNo))
	return n
}

// pageAAD binds ciphertext to its logical location: the big-endian page
// number. Swapping two pages on disk fails verification.
func pageAAD(pageNo int64) [8]byte {
	var a [8]byte
	binary.BigEndian.PutUint64(a[:], uint64(pageNo))
	return a
}

// newAEAD constructs the AES-256-GCM cipher for a 32-byte key.
func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

// IsEncryptedPage reports whether a raw page buffer carries the
// encryption marker in its reserved tail.
func IsEncryptedPage(page []byte, reserve int) bool {
	if reserve < MinReserveSize || len(page) < reserve {
		return false
	}
	payloadLen := len(page) - reserve
	return bytes.Equal(page[payloadLen+TagLen:payloadLen+TagLen+MarkerLen], marker[:])
}

// EncryptPage encrypts a page buffer in place. The leading len(page)-reserve
// bytes are treated as payload; the reserved tail receives the tag, the
// marker, and zero padding. Never call this for page 1.
func EncryptPage(page []byte, pageNo int64, dek DEK, reserve int) error {
	if err := validatePageBuffer(page, reserve); err != nil {
		return err
	}

	payloadLen := len(page) - reserve
	aead, err := newAEAD(dek[:])
	if err != nil {
		return err
	}

	nonce := pageNonce(pageNo)
	aad := pageAAD(pageNo)

	// Seal appends ciphertext||tag over the payload's own storage, which
	// lands the tag in the first 16 reserved bytes.
	aead.Seal(page[:0], nonce[:], page[:payloadLen], aad[:])

	copy(page[payloadLen+TagLen:], marker[:])
	for i := payloadLen + TagLen + MarkerLen; i < len(page); i++ {
		page[i] = 0
	}
	return nil
}

// DecryptPage inspects a page buffer's reserved tail. Without the marker
// it returns PagePlaintext and leaves the buffer alone. With the marker
// it verifies and decrypts the payload in place and zero-fills the
// reserved tail, or fails with ErrAuthFailed on tag mismatch.
func DecryptPage(page []byte, pageNo int64, dek DEK, reserve int) (DecryptResult, error) {
	if err := validatePageBuffer(page, reserve); err != nil {
		return PagePlaintext, err
	}
	if !IsEncryptedPage(page, reserve) {
		return PagePlaintext, nil
	}

	payloadLen := len(page) - reserve
	aead, err := newAEAD(dek[:])
	if err != nil {
		return PagePlaintext, err
	}

	nonce := pageNonce(pageNo)
	aad := pageAAD(pageNo)

	// Reassemble the ciphertext||tag buffer GCM expects.
	ct := make([]byte, payloadLen+TagLen)
	copy(ct, page[:payloadLen])
	copy(ct[payloadLen:], page[payloadLen:payloadLen+TagLen])

	if _, err := aead.Open(page[:0], nonce[:], ct, aad[:]); err != nil {
		return PagePlaintext, ErrAuthFailed
	}

	for i := payloadLen; i < len(page); i++ {
		page[i] = 0
	}
	return PageDecrypted, nil
}
