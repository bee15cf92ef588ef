package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "document/abc.jpg", ObjectKey(CategoryDocument, "abc", "jpg"))
	assert.Equal(t, "selfie/abc.png", ObjectKey(CategorySelfie, "abc", ".png"))
}

func TestResizedKey(t *testing.T) {
	assert.Equal(t, "resized_document/abc.jpg", ResizedKey("document/abc.png"))
	assert.Equal(t, "resized_selfie/abc.jpg", ResizedKey("selfie/abc.jpg"))
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    ParsedKey
		wantErr bool
	}{
		{
			name: "document",
			key:  "document/123e4567.jpg",
			want: ParsedKey{Category: CategoryDocument, VerificationID: "123e4567"},
		},
		{
			name: "selfie with leading slash",
			key:  "/selfie/abc.png",
			want: ParsedKey{Category: CategorySelfie, VerificationID: "abc"},
		},
		{
			name: "derived",
			key:  "resized_selfie/abc.jpg",
			want: ParsedKey{Category: CategorySelfie, VerificationID: "abc", Derived: true},
		},
		{name: "unknown category", key: "avatar/abc.jpg", wantErr: true},
		{name: "no extension", key: "document/abc", wantErr: true},
		{name: "no id", key: "document/.jpg", wantErr: true},
		{name: "nested", key: "document/x/abc.jpg", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCategory_Other(t *testing.T) {
	assert.Equal(t, CategorySelfie, CategoryDocument.Other())
	assert.Equal(t, CategoryDocument, CategorySelfie.Other())
}
