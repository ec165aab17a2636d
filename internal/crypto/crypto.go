// Package crypto provides end-to-end session encryption for GhostLink.
// It uses X25519 for key exchange, HKDF-SHA256 for session-key derivation,
// and AEAD (ChaCha20-Poly1305 or AES-256-GCM) for message confidentiality
// and integrity.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of an X25519 key and a derived session key, in bytes.
	KeySize = 32

	// NonceSize is the AEAD nonce size used by both supported ciphers.
	NonceSize = 12

	// TagSize is the AEAD authentication tag size.
	TagSize = 16

	// hkdfInfo is the context string used when expanding the ECDH shared
	// secret into a session key.
	hkdfInfo = "ghostlink_v1_session"

	// fingerprintInfo is mixed into the SAS fingerprint hash.
	fingerprintInfo = "ghostlink_fingerprint"
)

// Mode identifies the negotiated AEAD algorithm for a session.
type Mode uint8

const (
	// ModeChaCha20Poly1305 selects ChaCha20-Poly1305 (RFC 8439).
	ModeChaCha20Poly1305 Mode = iota
	// ModeAES256GCM selects AES-256 in GCM mode.
	ModeAES256GCM
)

// String returns the canonical lowercase name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeChaCha20Poly1305:
		return "chacha20poly1305"
	case ModeAES256GCM:
		return "aes256gcm"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ParseMode parses a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "chacha20poly1305", "chacha20":
		return ModeChaCha20Poly1305, nil
	case "aes256gcm", "aes-256-gcm", "aes256":
		return ModeAES256GCM, nil
	default:
		return 0, fmt.Errorf("unknown encryption mode %q", s)
	}
}

// KeyPair is an ephemeral X25519 key pair generated fresh for each handshake.
type KeyPair struct {
	Private [KeySize]byte
	Public  [KeySize]byte
}

// GenerateKeyPair generates a new ephemeral X25519 key pair. The private key
// should be zeroed with ZeroKey once the shared secret has been computed.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return KeyPair{}, fmt.Errorf("generate private key: %w", err)
	}

	// Clamp the private key per the X25519 spec.
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64

	curve25519.ScalarBaseMult(&kp.Public, &kp.Private)
	return kp, nil
}

// ComputeECDH performs an X25519 Diffie-Hellman exchange and returns the
// shared secret. Both the remote public key and the resulting secret are
// checked against the all-zero low-order point.
func ComputeECDH(private, remotePublic [KeySize]byte) ([KeySize]byte, error) {
	var sharedSecret, zero [KeySize]byte

	if remotePublic == zero {
		return sharedSecret, fmt.Errorf("invalid remote public key: zero key")
	}

	curve25519.ScalarMult(&sharedSecret, &private, &remotePublic)

	if sharedSecret == zero {
		return sharedSecret, fmt.Errorf("invalid ECDH result: low-order point")
	}

	return sharedSecret, nil
}

// Cipher wraps a negotiated AEAD instance together with the counter-based
// nonce construction GhostLink sessions use. A Cipher is produced once by
// DeriveSession and is otherwise stateless; callers are responsible for
// tracking and advancing their own tx/rx counters (see NonceCounters).
type Cipher struct {
	mode Mode
	aead cipher.AEAD
}

// Mode reports the AEAD algorithm this cipher was constructed with.
func (c *Cipher) Mode() Mode {
	return c.mode
}

func newCipher(mode Mode, key [KeySize]byte) (*Cipher, error) {
	var aead cipher.AEAD
	var err error

	switch mode {
	case ModeChaCha20Poly1305:
		aead, err = chacha20poly1305.New(key[:])
	case ModeAES256GCM:
		var block cipher.Block
		block, err = aes.NewCipher(key[:])
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	default:
		return nil, fmt.Errorf("unsupported cipher mode %d", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("initialize cipher: %w", err)
	}

	return &Cipher{mode: mode, aead: aead}, nil
}

// buildNonce constructs the 12-byte AEAD nonce for a given counter value:
// 4 zero bytes followed by the counter as an 8-byte big-endian integer.
func buildNonce(counter uint64) [NonceSize]byte {
	var nonce [NonceSize]byte
	binary.BigEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// Encrypt authenticates and encrypts plaintext under the given counter
// value. No additional authenticated data is used. The counter is never
// embedded in the output; the caller must communicate and track it
// (GhostLink's frames are always sent and received in order over the
// reliable stream, so both sides derive the counter from NonceCounters).
func (c *Cipher) Encrypt(counter uint64, plaintext []byte) ([]byte, error) {
	nonce := buildNonce(counter)
	ciphertext := c.aead.Seal(nil, nonce[:], plaintext, nil)
	return ciphertext, nil
}

// Decrypt authenticates and decrypts ciphertext produced by Encrypt using
// the matching counter value. Authentication failure is always reported as
// an error; the caller must treat it as fatal to the session.
func (c *Cipher) Decrypt(counter uint64, ciphertext []byte) ([]byte, error) {
	nonce := buildNonce(counter)
	plaintext, err := c.aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// NonceCounters tracks the strictly-increasing tx/rx counters for a session.
// Both start at zero when a session is installed. Overflow is fatal to the
// session; at one encryption per nanosecond this would take over 500 years,
// so it is checked but never expected to trigger in practice.
type NonceCounters struct {
	Tx uint64
	Rx uint64
}

// NextTx returns the counter value to use for the next encryption and
// advances the send counter. It errors if the counter would overflow.
func (n *NonceCounters) NextTx() (uint64, error) {
	if n.Tx == ^uint64(0) {
		return 0, fmt.Errorf("nonce counter exhausted")
	}
	v := n.Tx
	n.Tx++
	return v, nil
}

// NextRx returns the counter value expected for the next decryption and
// advances the receive counter. It errors if the counter would overflow.
func (n *NonceCounters) NextRx() (uint64, error) {
	if n.Rx == ^uint64(0) {
		return 0, fmt.Errorf("nonce counter exhausted")
	}
	v := n.Rx
	n.Rx++
	return v, nil
}

// SessionData holds everything derived from a successful handshake: the
// AEAD cipher instance and the short-authentication-string fingerprint used
// for out-of-band verification between peers.
type SessionData struct {
	Cipher      *Cipher
	Fingerprint string
}

// DeriveSession computes the ECDH shared secret between a local private key
// and a remote public key, expands it via HKDF-SHA256 into a session key,
// initializes the AEAD cipher for the negotiated mode, and computes the SAS
// fingerprint from the sorted pair of public keys. Both peers call this with
// their own private key and the other's public key and arrive at identical
// ciphers and fingerprints.
func DeriveSession(private [KeySize]byte, remotePublic [KeySize]byte, mode Mode, localPublic [KeySize]byte) (*SessionData, error) {
	sharedSecret, err := ComputeECDH(private, remotePublic)
	if err != nil {
		return nil, err
	}
	defer ZeroKey(&sharedSecret)

	reader := hkdf.New(sha256.New, sharedSecret[:], nil, []byte(hkdfInfo))
	var keyMaterial [KeySize]byte
	if _, err := io.ReadFull(reader, keyMaterial[:]); err != nil {
		return nil, fmt.Errorf("hkdf expansion: %w", err)
	}
	defer ZeroKey(&keyMaterial)

	aeadCipher, err := newCipher(mode, keyMaterial)
	if err != nil {
		return nil, err
	}

	fingerprint := computeFingerprint(localPublic, remotePublic)

	return &SessionData{Cipher: aeadCipher, Fingerprint: fingerprint}, nil
}

// computeFingerprint derives the three-byte short authentication string for
// a pair of public keys, independent of which side is local vs. remote.
func computeFingerprint(a, b [KeySize]byte) string {
	keys := [][KeySize]byte{a, b}
	sort.Slice(keys, func(i, j int) bool {
		return string(keys[i][:]) < string(keys[j][:])
	})

	h := sha256.New()
	h.Write([]byte(fingerprintInfo))
	h.Write(keys[0][:])
	h.Write(keys[1][:])
	sum := h.Sum(nil)

	return fmt.Sprintf("%02X %02X %02X", sum[0], sum[1], sum[2])
}

// ZeroBytes overwrites a byte slice with zeros. Use it to clear ephemeral
// key material once it is no longer needed.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroKey overwrites a fixed-size key array with zeros.
func ZeroKey(k *[KeySize]byte) {
	for i := range k {
		k[i] = 0
	}
}
