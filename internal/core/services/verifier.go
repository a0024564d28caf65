package services

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"
)

// defaultSignatureAlgo is used when the header names an algorithm we don't know
const defaultSignatureAlgo = "sha256"

var signatureAlgos = map[string]func() hash.Hash{
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

// VerifySignature checks a "<algo>=<hexDigest>" header against an HMAC of the
// raw request body. rawBody must be the exact bytes received; a re-encoded
// body will not verify. Never panics; any malformed input yields false.
func VerifySignature(rawBody []byte, signatureHeader, secret string) bool {
	if secret == "" || len(rawBody) == 0 {
		return false
	}

	header := strings.TrimSpace(strings.ReplaceAll(signatureHeader, `"`, ""))
	algo, theirHex, found := strings.Cut(header, "=")
	if !found || algo == "" || theirHex == "" {
		return false
	}

	newHash, ok := signatureAlgos[strings.ToLower(algo)]
	if !ok {
		newHash = signatureAlgos[defaultSignatureAlgo]
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(rawBody)
	computed := hex.EncodeToString(mac.Sum(nil))

	if len(computed) != len(theirHex) {
		return false
	}
	// Constant-time comparison; the header hex may use either case
	return hmac.Equal([]byte(computed), []byte(strings.ToLower(theirHex)))
}

// SignBody returns the "sha256=<hex>" header value for body. Used by tests and
// local tooling that replays deliveries.
func SignBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
