package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostel-assistant/internal/models"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("secret", "hostel-api")
	token, err := v.Sign(models.Principal{UserID: "u1", Name: "Warden", Role: models.RoleAdmin}, time.Minute)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "Warden", p.Name)
	assert.True(t, p.HasRole(models.RoleAdmin))
	assert.False(t, p.HasRole(models.RoleStudent))
}

func TestVerifier_LegacyIDClaim(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":   "u7",
		"role": "student",
		"exp":  time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	p, err := NewVerifier("secret", "").Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u7", p.UserID)
	assert.Equal(t, models.RoleStudent, p.Role)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("secret", "hostel-api")
	expired, _ := v.Sign(models.Principal{UserID: "u1", Role: models.RoleAdmin}, -time.Minute)
	otherKey, _ := NewVerifier("other", "hostel-api").Sign(models.Principal{UserID: "u1"}, time.Minute)
	otherIssuer, _ := NewVerifier("secret", "elsewhere").Sign(models.Principal{UserID: "u1"}, time.Minute)
	noSubject, _ := v.Sign(models.Principal{Role: models.RoleAdmin}, time.Minute)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"empty", "", ErrMissingToken},
		{"garbage", "not-a-token", ErrInvalidToken},
		{"expired", expired, ErrInvalidToken},
		{"wrong key", otherKey, ErrInvalidToken},
		{"wrong issuer", otherIssuer, ErrInvalidToken},
		{"no subject", noSubject, ErrInvalidToken},
		{"alg none", none, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", tok)

	tok, err = BearerToken("bearer xyz")
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	_, err = BearerToken("Basic dXNlcjpwYXNz")
	assert.True(t, errors.Is(err, ErrMissingToken))
	_, err = BearerToken("")
	assert.True(t, errors.Is(err, ErrMissingToken))
}
