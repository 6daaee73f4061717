// Package hasher computes content hashes used to version data set files.
// A hashed file is named "<hash>__<name>"; files ending in .gz are hashed
// over their decompressed content so re-compressing never changes the hash.
package hasher

import (
	"compress/gzip"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Separator divides the hash from the original file name.
const Separator = "__"

// Hasher accumulates bytes into an MD5 digest.
type Hasher struct {
	digest hash.Hash
}

// New creates an empty hasher.
func New() *Hasher {
	return &Hasher{digest: md5.New()}
}

// Write implements io.Writer.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.digest.Write(p)
}

// Reset discards accumulated bytes.
func (h *Hasher) Reset() {
	h.digest.Reset()
}

// UpdateFile feeds the content of path into the digest, decompressing .gz files.
func (h *Hasher) UpdateFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("opening gzip %s for hashing: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	if _, err := io.Copy(h.digest, r); err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}
	return nil
}

// String returns the lowercase hex digest of everything written so far.
func (h *Hasher) String() string {
	return hex.EncodeToString(h.digest.Sum(nil))
}

// HashString returns the hex digest of s.
func HashString(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashFile returns the hex digest of a file's (decompressed) content.
func HashFile(path string) (string, error) {
	h := New()
	if err := h.UpdateFile(path); err != nil {
		return "", err
	}
	return h.String(), nil
}

// QualifiedName prefixes name with hash.
func QualifiedName(hash, name string) string {
	return hash + Separator + name
}

// ExtractHash returns the hash prefix of name, or "" when name is unhashed.
func ExtractHash(name string) string {
	name = filepath.Base(name)
	if i := strings.Index(name, Separator); i > 0 {
		return name[:i]
	}
	return ""
}

// ExtractFileName strips any hash prefix from name.
func ExtractFileName(name string) string {
	name = filepath.Base(name)
	if i := strings.Index(name, Separator); i > 0 {
		return name[i+len(Separator):]
	}
	return name
}

// IsHashed reports whether name carries a hash prefix.
func IsHashed(name string) bool {
	return ExtractHash(name) != ""
}

// EnsureFileHashed renames path to its hash-qualified name and returns the
// new path. Already hashed files are returned unchanged.
func EnsureFileHashed(path string) (string, error) {
	if IsHashed(path) {
		return path, nil
	}
	hash, err := HashFile(path)
	if err != nil {
		return "", err
	}
	hashed := filepath.Join(filepath.Dir(path), QualifiedName(hash, filepath.Base(path)))
	if err := os.Rename(path, hashed); err != nil {
		return "", fmt.Errorf("renaming %s to %s: %w", path, hashed, err)
	}
	return hashed, nil
}

// CheckHash recomputes a hashed file's digest and compares it with the
// hash in its name.
func CheckHash(path string) (bool, error) {
	want := ExtractHash(path)
	if want == "" {
		return false, fmt.Errorf("file %s has no hash in its name", path)
	}
	got, err := HashFile(path)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
