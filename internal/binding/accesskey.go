package binding

import (
	"crypto/sha256"
	"encoding/base64"
)

// AccessKey derives the capability token for one binding hash:
// base64 of SHA-256(bearerSecret || bindingDataHash).
func AccessKey(bearerSecret, bindingDataHash string) string {
	sum := sha256.Sum256([]byte(bearerSecret + bindingDataHash))
	return base64.StdEncoding.EncodeToString(sum[:])
}
