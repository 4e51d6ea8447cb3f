package abik

import (
	"crypto/sha1"
	"crypto/subtle"
	"fmt"
	"io"
	"os"
)

const SHA1_DIGEST_SIZE = 20

func sha1OfPrefix(path string, length int64) ([]byte, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	hash := sha1.New()
	if _, err := io.CopyBuffer(hash, io.LimitReader(fd, length), make([]byte, codecBufSize)); err != nil {
		return nil, err
	}
	return hash.Sum(nil), nil
}

// AppendSHA1 appends the 20-byte SHA-1 digest of the file's current
// content to the file itself.
func AppendSHA1(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	digest, err := sha1OfPrefix(path, st.Size())
	if err != nil {
		return err
	}

	fd, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer fd.Close()
	return writeAll(fd, digest)
}

// ValidateSHA1 recomputes the digest of everything before the trailing
// 20 bytes and compares it against them in constant time. This guards
// the configuration record against accidental corruption; it is not a
// security boundary.
func ValidateSHA1(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if st.Size() < SHA1_DIGEST_SIZE {
		return fmt.Errorf("%w: file shorter than a digest", ErrIntegrity)
	}
	content_size := st.Size() - SHA1_DIGEST_SIZE

	fd, err := os.Open(path)
	if err != nil {
		return err
	}
	stored := make([]byte, SHA1_DIGEST_SIZE)
	if _, err := fd.ReadAt(stored, content_size); err != nil {
		fd.Close()
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	fd.Close()

	computed, err := sha1OfPrefix(path, content_size)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(stored, computed) != 1 {
		return ErrIntegrity
	}
	return nil
}
