package stream

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"

	"github.com/dbackup/dbackup/internal/domain"
)

const (
	// IVSize is the per-artifact initialization vector length. The IV
	// doubles as the HKDF salt, so a fresh IV yields a fresh key pair.
	IVSize = 16

	keyInfo = "dbackup artifact v1"
)

// deriveKeys stretches the profile's master key into an independent
// AES-256 key and HMAC-SHA256 key, bound to this artifact's IV.
func deriveKeys(masterKey, iv []byte) (encKey, macKey []byte, err error) {
	kdf := hkdf.New(sha256.New, masterKey, iv, []byte(keyInfo))
	material := make([]byte, 64)
	if _, err := io.ReadFull(kdf, material); err != nil {
		return nil, nil, fmt.Errorf("failed to derive artifact keys: %w", err)
	}
	return material[:32], material[32:], nil
}

// EncryptFile encrypts sourcePath into destPath with AES-256-CTR and
// authenticates the ciphertext with HMAC-SHA256 (encrypt-then-MAC).
// It returns the fresh IV and the authentication tag; both go into the
// artifact's sidecar.
func EncryptFile(masterKey []byte, sourcePath, destPath string) (iv, tag []byte, err error) {
	iv = make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	encKey, macKey, err := deriveKeys(masterKey, iv)
	if err != nil {
		return nil, nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init cipher: %w", err)
	}

	source, err := os.Open(sourcePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer source.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create dest file: %w", err)
	}
	defer dest.Close()

	mac := hmac.New(sha256.New, macKey)
	stream := cipher.NewCTR(block, iv)

	// Ciphertext flows to the file and the MAC in one pass.
	writer := cipher.StreamWriter{S: stream, W: io.MultiWriter(dest, mac)}
	if _, err := io.Copy(writer, source); err != nil {
		return nil, nil, fmt.Errorf("failed to encrypt: %w", err)
	}

	return iv, mac.Sum(nil), nil
}

// DecryptFile reverses EncryptFile. The authentication tag is verified
// over the complete ciphertext BEFORE any plaintext is produced: on a
// mismatch it returns domain.ErrIntegrity and destPath is never
// created.
func DecryptFile(masterKey, iv, tag []byte, sourcePath, destPath string) error {
	encKey, macKey, err := deriveKeys(masterKey, iv)
	if err != nil {
		return err
	}

	if err := verifyTag(macKey, tag, sourcePath); err != nil {
		return err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return fmt.Errorf("failed to init cipher: %w", err)
	}

	source, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer source.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}
	defer dest.Close()

	stream := cipher.NewCTR(block, iv)
	reader := cipher.StreamReader{S: stream, R: source}
	if _, err := io.Copy(dest, reader); err != nil {
		return fmt.Errorf("failed to decrypt: %w", err)
	}

	return nil
}

// verifyTag streams the ciphertext through HMAC-SHA256 and compares in
// constant time.
func verifyTag(macKey, tag []byte, ciphertextPath string) error {
	source, err := os.Open(ciphertextPath)
	if err != nil {
		return fmt.Errorf("failed to open ciphertext: %w", err)
	}
	defer source.Close()

	mac := hmac.New(sha256.New, macKey)
	if _, err := io.Copy(mac, source); err != nil {
		return fmt.Errorf("failed to authenticate ciphertext: %w", err)
	}

	if !hmac.Equal(mac.Sum(nil), tag) {
		return domain.ErrIntegrity
	}
	return nil
}
