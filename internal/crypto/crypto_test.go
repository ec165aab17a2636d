package crypto

import (
	"bytes"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	kp1, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	var zero [KeySize]byte
	if kp1.Private == zero {
		t.Error("private key is zero")
	}
	if kp1.Public == zero {
		t.Error("public key is zero")
	}

	kp2, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() second call error = %v", err)
	}

	if kp1.Private == kp2.Private {
		t.Error("two generated private keys are identical")
	}
	if kp1.Public == kp2.Public {
		t.Error("two generated public keys are identical")
	}
}

func TestComputeECDH(t *testing.T) {
	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() alice error = %v", err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() bob error = %v", err)
	}

	secretA, err := ComputeECDH(alice.Private, bob.Public)
	if err != nil {
		t.Fatalf("ComputeECDH(alice, bobPub) error = %v", err)
	}

	secretB, err := ComputeECDH(bob.Private, alice.Public)
	if err != nil {
		t.Fatalf("ComputeECDH(bob, alicePub) error = %v", err)
	}

	if secretA != secretB {
		t.Error("shared secrets do not match")
	}

	var zero [KeySize]byte
	if secretA == zero {
		t.Error("shared secret is zero")
	}
}

func TestComputeECDH_ZeroKey(t *testing.T) {
	kp, _ := GenerateKeyPair()

	var zero [KeySize]byte
	if _, err := ComputeECDH(kp.Private, zero); err == nil {
		t.Error("ComputeECDH with zero public key should succeed to fail, got nil error")
	}
}

func TestDeriveSession_Match(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()

	sessionA, err := DeriveSession(alice.Private, bob.Public, ModeChaCha20Poly1305, alice.Public)
	if err != nil {
		t.Fatalf("DeriveSession(alice) error = %v", err)
	}
	sessionB, err := DeriveSession(bob.Private, alice.Public, ModeChaCha20Poly1305, bob.Public)
	if err != nil {
		t.Fatalf("DeriveSession(bob) error = %v", err)
	}

	if sessionA.Fingerprint != sessionB.Fingerprint {
		t.Errorf("fingerprints do not match: %q vs %q", sessionA.Fingerprint, sessionB.Fingerprint)
	}
}

func TestDeriveSession_FingerprintFormat(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()

	session, err := DeriveSession(alice.Private, bob.Public, ModeChaCha20Poly1305, alice.Public)
	if err != nil {
		t.Fatalf("DeriveSession() error = %v", err)
	}

	// "XX XX XX" - 8 characters, two spaces, uppercase hex.
	if len(session.Fingerprint) != 8 {
		t.Errorf("fingerprint length = %d, want 8 (%q)", len(session.Fingerprint), session.Fingerprint)
	}
	for i, c := range session.Fingerprint {
		if i == 2 || i == 5 {
			if c != ' ' {
				t.Errorf("expected space at index %d, got %q", i, c)
			}
			continue
		}
		if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')) {
			t.Errorf("expected uppercase hex digit at index %d, got %q", i, c)
		}
	}
}

func TestEncryptDecrypt_ChaCha20(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()

	sessionA, _ := DeriveSession(alice.Private, bob.Public, ModeChaCha20Poly1305, alice.Public)
	sessionB, _ := DeriveSession(bob.Private, alice.Public, ModeChaCha20Poly1305, bob.Public)

	plaintext := []byte("Hello, GhostLink!")

	ciphertext, err := sessionA.Cipher.Encrypt(0, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Error("ciphertext contains plaintext verbatim")
	}

	decrypted, err := sessionB.Cipher.Decrypt(0, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("decrypted = %q, want %q", decrypted, plaintext)
	}
}

func TestEncryptDecrypt_AES256GCM(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()

	sessionA, _ := DeriveSession(alice.Private, bob.Public, ModeAES256GCM, alice.Public)
	sessionB, _ := DeriveSession(bob.Private, alice.Public, ModeAES256GCM, bob.Public)

	plaintext := []byte("Hello over AES-256-GCM")

	ciphertext, err := sessionA.Cipher.Encrypt(5, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	decrypted, err := sessionB.Cipher.Decrypt(5, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("decrypted = %q, want %q", decrypted, plaintext)
	}
}

func TestDecrypt_WrongCounter(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()

	sessionA, _ := DeriveSession(alice.Private, bob.Public, ModeChaCha20Poly1305, alice.Public)
	sessionB, _ := DeriveSession(bob.Private, alice.Public, ModeChaCha20Poly1305, bob.Public)

	ciphertext, _ := sessionA.Cipher.Encrypt(0, []byte("hello"))

	if _, err := sessionB.Cipher.Decrypt(1, ciphertext); err == nil {
		t.Error("Decrypt with wrong counter should fail")
	}
}

func TestDecrypt_Tampered(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()

	sessionA, _ := DeriveSession(alice.Private, bob.Public, ModeChaCha20Poly1305, alice.Public)
	sessionB, _ := DeriveSession(bob.Private, alice.Public, ModeChaCha20Poly1305, bob.Public)

	ciphertext, _ := sessionA.Cipher.Encrypt(0, []byte("Secret message"))
	ciphertext[0] ^= 0xFF

	if _, err := sessionB.Cipher.Decrypt(0, ciphertext); err == nil {
		t.Error("Decrypt with tampered ciphertext should fail")
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()
	carol, _ := GenerateKeyPair()

	sessionAB, _ := DeriveSession(alice.Private, bob.Public, ModeChaCha20Poly1305, alice.Public)
	sessionAC, _ := DeriveSession(alice.Private, carol.Public, ModeChaCha20Poly1305, alice.Public)

	ciphertext, _ := sessionAB.Cipher.Encrypt(0, []byte("Secret message"))

	if _, err := sessionAC.Cipher.Decrypt(0, ciphertext); err == nil {
		t.Error("Decrypt with unrelated session key should fail")
	}
}

func TestNonceCounters_Sequence(t *testing.T) {
	var n NonceCounters

	for i := uint64(0); i < 5; i++ {
		v, err := n.NextTx()
		if err != nil {
			t.Fatalf("NextTx() error = %v", err)
		}
		if v != i {
			t.Errorf("NextTx() = %d, want %d", v, i)
		}
	}

	if n.Tx != 5 {
		t.Errorf("Tx = %d, want 5", n.Tx)
	}
}

func TestNonceCounters_Overflow(t *testing.T) {
	n := NonceCounters{Tx: ^uint64(0)}
	if _, err := n.NextTx(); err == nil {
		t.Error("NextTx() at max uint64 should fail")
	}

	n2 := NonceCounters{Rx: ^uint64(0)}
	if _, err := n2.NextRx(); err == nil {
		t.Error("NextRx() at max uint64 should fail")
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"chacha20poly1305": ModeChaCha20Poly1305,
		"aes256gcm":        ModeAES256GCM,
	}
	for s, want := range cases {
		got, err := ParseMode(s)
		if err != nil {
			t.Fatalf("ParseMode(%q) error = %v", s, err)
		}
		if got != want {
			t.Errorf("ParseMode(%q) = %v, want %v", s, got, want)
		}
	}

	if _, err := ParseMode("rot13"); err == nil {
		t.Error("ParseMode of unknown mode should fail")
	}
}

func TestZeroBytes(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}
	ZeroBytes(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("byte %d = %d, want 0", i, b)
		}
	}
}

func TestZeroKey(t *testing.T) {
	key := [KeySize]byte{}
	for i := range key {
		key[i] = byte(i + 1)
	}
	ZeroKey(&key)

	var zero [KeySize]byte
	if key != zero {
		t.Error("key was not zeroed")
	}
}

func BenchmarkEncrypt(b *testing.B) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()
	session, _ := DeriveSession(alice.Private, bob.Public, ModeChaCha20Poly1305, alice.Public)

	plaintext := make([]byte, 1400) // typical MTU-sized payload
	b.ResetTimer()
	b.SetBytes(int64(len(plaintext)))

	for i := 0; i < b.N; i++ {
		_, _ = session.Cipher.Encrypt(uint64(i), plaintext)
	}
}
