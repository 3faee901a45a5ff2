package auth

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestGenerateParse(t *testing.T) {
	secret := []byte("s3cret")
	tok, err := Generate("qgc", time.Hour, secret)
	assert.Equal(t, err, nil)

	claims, err := Parse(tok, secret)
	assert.Equal(t, err, nil)
	assert.Equal(t, claims.Subject, "qgc")
	assert.Equal(t, claims.Scope, DefaultScope)
}

func TestParseRejects(t *testing.T) {
	secret := []byte("s3cret")
	tok, _ := Generate("qgc", time.Hour, secret)
	_, err := Parse(tok, []byte("other"))
	assert.Equal(t, err, ErrInvalid)

	expired, _ := Generate("qgc", -time.Minute, secret)
	_, err = Parse(expired, secret)
	assert.Equal(t, err, ErrInvalid)

	_, err = Parse("garbage", secret)
	assert.Equal(t, err, ErrInvalid)

	_, err = Generate("qgc", time.Hour, nil)
	assert.Equal(t, err, ErrNoSecret)
}
