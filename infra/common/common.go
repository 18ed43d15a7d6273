package common

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// GenerateHash digests every regular file under path into one hex
// string, used as the image tag so a rebuild only happens when the
// source tree actually changed. filepath.WalkDir visits files in
// lexical order, which keeps the digest stable across runs.
func GenerateHash(path string) (string, error) {
	h := sha256.New()

	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		io.WriteString(h, p)
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", h.Sum(nil))[:16], nil
}
