package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idverify/internal/model"
)

var jane = model.Identity{Email: "jane@example.com", GivenName: "Jane", FamilyName: "Doe"}

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", "idp", "idverify")

	token, err := svc.GenerateToken(jane, time.Minute)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, jane, claims.Identity())
}

func TestJWTService_ValidateToken(t *testing.T) {
	valid := NewJWTService("secret", "idp", "idverify")

	tests := []struct {
		name    string
		token   func(t *testing.T) string
		wantErr error
	}{
		{
			name: "expired",
			token: func(t *testing.T) string {
				tok, err := valid.GenerateToken(jane, -time.Minute)
				require.NoError(t, err)
				return tok
			},
			wantErr: ErrTokenExpired,
		},
		{
			name: "wrong key",
			token: func(t *testing.T) string {
				tok, err := NewJWTService("other", "idp", "idverify").GenerateToken(jane, time.Minute)
				require.NoError(t, err)
				return tok
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "wrong issuer",
			token: func(t *testing.T) string {
				tok, err := NewJWTService("secret", "elsewhere", "idverify").GenerateToken(jane, time.Minute)
				require.NoError(t, err)
				return tok
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "wrong audience",
			token: func(t *testing.T) string {
				tok, err := NewJWTService("secret", "idp", "billing").GenerateToken(jane, time.Minute)
				require.NoError(t, err)
				return tok
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "missing email",
			token: func(t *testing.T) string {
				tok, err := valid.GenerateToken(model.Identity{GivenName: "Nobody"}, time.Minute)
				require.NoError(t, err)
				return tok
			},
			wantErr: ErrNoEmail,
		},
		{
			name: "unsigned token",
			token: func(t *testing.T) string {
				tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Email: "x@example.com"}).
					SignedString(jwt.UnsafeAllowNoneSignatureType)
				require.NoError(t, err)
				return tok
			},
			wantErr: ErrInvalidToken,
		},
		{
			name:    "garbage",
			token:   func(t *testing.T) string { return "not-a-jwt" },
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := valid.ValidateToken(tt.token(t))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", tok)

	tok, ok = BearerToken("bearer xyz")
	assert.True(t, ok)
	assert.Equal(t, "xyz", tok)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}
