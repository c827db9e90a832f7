package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost balances heartbeat latency against brute-force cost
const bcryptCost = 10

// HashSecret hashes a plaintext secret with bcrypt. The salt is
// generated per hash by the library.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret checks a plaintext secret against a stored bcrypt hash
// in constant time. Returns false for a mismatch or a malformed hash;
// the two cases are indistinguishable to callers.
func VerifySecret(secret, encodedHash string) bool {
	if encodedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(secret)) == nil
}
