package stream

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/dbackup/dbackup/internal/domain"
)

func writeTemp(t *testing.T, dir string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, "plain.sql")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCompression(t *testing.T) {
	Convey("Given the compression codecs", t, func() {
		tempDir := t.TempDir()
		content := bytes.Repeat([]byte("INSERT INTO users VALUES (1, 'alice');\n"), 500)
		source := writeTemp(t, tempDir, content)

		for _, mode := range []domain.CompressionMode{
			domain.CompressionNone,
			domain.CompressionGzip,
			domain.CompressionBrotli,
		} {
			mode := mode
			Convey("When compressing and decompressing with "+string(mode), func() {
				compressed := filepath.Join(tempDir, "artifact"+Ext(mode))
				restored := filepath.Join(tempDir, "restored_"+string(mode)+".sql")

				So(CompressFile(source, compressed, mode), ShouldBeNil)
				So(DecompressFile(compressed, restored, mode), ShouldBeNil)

				got, err := os.ReadFile(restored)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, content)
			})
		}

		Convey("When the compression mode is unknown", func() {
			err := CompressFile(source, filepath.Join(tempDir, "out"), domain.CompressionMode("zip"))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "unknown compression mode")
		})

		Convey("When the source file does not exist", func() {
			err := CompressFile(filepath.Join(tempDir, "missing"), filepath.Join(tempDir, "out"), domain.CompressionGzip)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to open source file")
		})
	})
}

func TestCipher(t *testing.T) {
	Convey("Given a master key and a plaintext artifact", t, func() {
		tempDir := t.TempDir()
		masterKey := make([]byte, 32)
		_, err := rand.Read(masterKey)
		So(err, ShouldBeNil)

		content := bytes.Repeat([]byte("-- PostgreSQL database dump\n"), 200)
		source := writeTemp(t, tempDir, content)
		encrypted := filepath.Join(tempDir, "artifact.enc")

		Convey("When encrypting and decrypting with the same key", func() {
			iv, tag, err := EncryptFile(masterKey, source, encrypted)
			So(err, ShouldBeNil)
			So(iv, ShouldHaveLength, IVSize)
			So(tag, ShouldHaveLength, 32)

			decrypted := filepath.Join(tempDir, "decrypted.sql")
			So(DecryptFile(masterKey, iv, tag, encrypted, decrypted), ShouldBeNil)

			got, err := os.ReadFile(decrypted)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, content)

			Convey("And the ciphertext should not contain the plaintext", func() {
				raw, err := os.ReadFile(encrypted)
				So(err, ShouldBeNil)
				So(bytes.Contains(raw, []byte("PostgreSQL")), ShouldBeFalse)
			})
		})

		Convey("When a single ciphertext byte is flipped", func() {
			iv, tag, err := EncryptFile(masterKey, source, encrypted)
			So(err, ShouldBeNil)

			raw, err := os.ReadFile(encrypted)
			So(err, ShouldBeNil)
			raw[len(raw)/2] ^= 0x01
			So(os.WriteFile(encrypted, raw, 0644), ShouldBeNil)

			decrypted := filepath.Join(tempDir, "decrypted.sql")
			err = DecryptFile(masterKey, iv, tag, encrypted, decrypted)

			Convey("It should fail with an integrity error and emit zero plaintext", func() {
				So(err, ShouldNotBeNil)
				So(err, ShouldEqual, domain.ErrIntegrity)
				_, statErr := os.Stat(decrypted)
				So(os.IsNotExist(statErr), ShouldBeTrue)
			})
		})

		Convey("When the authentication tag is corrupted", func() {
			iv, tag, err := EncryptFile(masterKey, source, encrypted)
			So(err, ShouldBeNil)
			tag[0] ^= 0xFF

			decrypted := filepath.Join(tempDir, "decrypted.sql")
			err = DecryptFile(masterKey, iv, tag, encrypted, decrypted)

			Convey("It should fail with an integrity error and emit zero plaintext", func() {
				So(err, ShouldEqual, domain.ErrIntegrity)
				_, statErr := os.Stat(decrypted)
				So(os.IsNotExist(statErr), ShouldBeTrue)
			})
		})

		Convey("When decrypting with the wrong master key", func() {
			iv, tag, err := EncryptFile(masterKey, source, encrypted)
			So(err, ShouldBeNil)

			otherKey := make([]byte, 32)
			_, err = rand.Read(otherKey)
			So(err, ShouldBeNil)

			decrypted := filepath.Join(tempDir, "decrypted.sql")
			err = DecryptFile(otherKey, iv, tag, encrypted, decrypted)

			Convey("It should be indistinguishable from corruption", func() {
				So(err, ShouldEqual, domain.ErrIntegrity)
				_, statErr := os.Stat(decrypted)
				So(os.IsNotExist(statErr), ShouldBeTrue)
			})
		})

		Convey("When round-tripping every compression and encryption combination", func() {
			for _, mode := range []domain.CompressionMode{
				domain.CompressionNone,
				domain.CompressionGzip,
				domain.CompressionBrotli,
			} {
				compressed := filepath.Join(tempDir, "a"+Ext(mode))
				So(CompressFile(source, compressed, mode), ShouldBeNil)

				enc := compressed + ".enc"
				iv, tag, err := EncryptFile(masterKey, compressed, enc)
				So(err, ShouldBeNil)

				dec := filepath.Join(tempDir, "dec_"+string(mode))
				So(DecryptFile(masterKey, iv, tag, enc, dec), ShouldBeNil)

				plain := filepath.Join(tempDir, "plain_"+string(mode)+".sql")
				So(DecompressFile(dec, plain, mode), ShouldBeNil)

				got, err := os.ReadFile(plain)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, content)
			}
		})
	})
}
