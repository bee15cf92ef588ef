package storage

import (
	"fmt"
	"path"
	"strings"
)

// Category names the two images of a verification and is the key prefix.
type Category string

const (
	CategoryDocument Category = "document"
	CategorySelfie   Category = "selfie"
)

const resizedPrefix = "resized_"

// Other returns the opposite image category.
func (c Category) Other() Category {
	if c == CategoryDocument {
		return CategorySelfie
	}
	return CategoryDocument
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryDocument || c == CategorySelfie
}

// ObjectKey builds "<category>/<verificationID>.<ext>".
func ObjectKey(c Category, verificationID, ext string) string {
	return fmt.Sprintf("%s/%s.%s", c, verificationID, strings.TrimPrefix(ext, "."))
}

// ResizedKey returns the derived key for a resized copy. Resized images are
// always JPEG.
func ResizedKey(key string) string {
	base := strings.TrimSuffix(key, path.Ext(key))
	return resizedPrefix + base + ".jpg"
}

// ParsedKey is the decomposition of an image key.
type ParsedKey struct {
	Category       Category
	VerificationID string
	Derived        bool
}

// ParseKey splits a key of the form [resized_]<category>/<id>.<ext>.
func ParseKey(key string) (ParsedKey, error) {
	var pk ParsedKey
	k := strings.TrimPrefix(key, "/")
	if strings.HasPrefix(k, resizedPrefix) {
		pk.Derived = true
		k = strings.TrimPrefix(k, resizedPrefix)
	}

	dir, file := path.Split(k)
	pk.Category = Category(strings.TrimSuffix(dir, "/"))
	if !pk.Category.Valid() {
		return ParsedKey{}, fmt.Errorf("key %q: unknown category %q", key, dir)
	}

	ext := path.Ext(file)
	if ext == "" {
		return ParsedKey{}, fmt.Errorf("key %q: missing extension", key)
	}
	pk.VerificationID = strings.TrimSuffix(file, ext)
	if pk.VerificationID == "" {
		return ParsedKey{}, fmt.Errorf("key %q: missing verification id", key)
	}
	return pk, nil
}
