package services

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature_RoundTrip(t *testing.T) {
	bodies := [][]byte{
		[]byte(`{"object":"instagram","entry":[]}`),
		[]byte("x"),
		[]byte(`{"text":"héllo 👋"}`),
	}
	for _, body := range bodies {
		sig := SignBody(body, "s3cret")
		assert.True(t, VerifySignature(body, sig, "s3cret"), "body=%q", body)
	}
}

func TestVerifySignature_SingleByteMutation(t *testing.T) {
	body := []byte(`{"object":"instagram","entry":[{"id":"1"}]}`)
	sig := SignBody(body, "s3cret")

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		assert.False(t, VerifySignature(mutated, sig, "s3cret"), "mutation at %d verified", i)
	}
}

func TestVerifySignature_RejectsBadInput(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := SignBody(body, "s3cret")

	assert.False(t, VerifySignature(body, sig, ""), "missing secret")
	assert.False(t, VerifySignature(body, "", "s3cret"), "missing header")
	assert.False(t, VerifySignature(body, "sha256", "s3cret"), "no digest")
	assert.False(t, VerifySignature(body, "=abcd", "s3cret"), "no algo")
	assert.False(t, VerifySignature(nil, sig, "s3cret"), "empty body")
	assert.False(t, VerifySignature(body, sig[:len(sig)-2], "s3cret"), "length mismatch")
	assert.False(t, VerifySignature(body, sig, "other"), "wrong secret")
}

func TestVerifySignature_SHA1Header(t *testing.T) {
	body := []byte(`{"legacy":true}`)
	mac := hmac.New(sha1.New, []byte("s3cret"))
	mac.Write(body)
	sig := "sha1=" + hex.EncodeToString(mac.Sum(nil))

	assert.True(t, VerifySignature(body, sig, "s3cret"))
}

func TestVerifySignature_UnknownAlgoFallsBackToSHA256(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := SignBody(body, "s3cret")
	_, digest, _ := strings.Cut(sig, "=")

	assert.True(t, VerifySignature(body, "md5="+digest, "s3cret"))
}

func TestVerifySignature_QuotedAndUppercase(t *testing.T) {
	body := []byte(`{"a":1}`)
	_, digest, _ := strings.Cut(SignBody(body, "s3cret"), "=")

	assert.True(t, VerifySignature(body, `"sha256=`+digest+`"`, "s3cret"))
	assert.True(t, VerifySignature(body, "SHA256="+strings.ToUpper(digest), "s3cret"))
}
