package decrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

const nonceSize = 16

// nonce lays out the CTR initial block: packet id, four zero bytes, sender
// node, four zero bytes. Integers are little-endian.
func nonce(packetID, fromNode uint32) [nonceSize]byte {
	var n [nonceSize]byte
	binary.LittleEndian.PutUint32(n[0:4], packetID)
	binary.LittleEndian.PutUint32(n[8:12], fromNode)
	return n
}

// xorKeyStream runs AES-CTR over src. A 16-byte key selects AES-128 and a
// 32-byte key AES-256.
func xorKeyStream(key []byte, iv [nonceSize]byte, src []byte) ([]byte, error) {
	if len(key) != 16 && len(key) != 32 {
		return nil, fmt.Errorf("%w: got %d", ErrKeyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(src))
	cipher.NewCTR(block, iv[:]).XORKeyStream(out, src)
	return out, nil
}

// Encrypt seals plaintext for the mesh. CTR is symmetric, so the same call
// decrypts.
func Encrypt(key []byte, packetID, fromNode uint32, plaintext []byte) ([]byte, error) {
	return xorKeyStream(key, nonce(packetID, fromNode), plaintext)
}

// XorHash folds b into one byte by running XOR. It is a pre-filter, not an
// integrity check.
func XorHash(b []byte) uint8 {
	var h uint8
	for _, c := range b {
		h ^= c
	}
	return h
}

// ChannelHash is the one-byte channel hint a sender puts on the wire.
func ChannelHash(name string, key []byte) uint8 {
	return XorHash([]byte(name)) ^ XorHash(key)
}
