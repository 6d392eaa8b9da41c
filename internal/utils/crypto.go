package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns a bcrypt hash of plain.
func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hashed, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}

// SHA256Hex is used for refresh token lookups and bundle file digests.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// no 0/O or 1/I
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateCode returns n random characters from codeAlphabet; n <= 0 means 6.
func GenerateCode(n int) (string, error) {
	if n <= 0 {
		n = 6
	}
	limit := big.NewInt(int64(len(codeAlphabet)))
	out := make([]byte, 0, n)
	for len(out) < n {
		i, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		out = append(out, codeAlphabet[i.Int64()])
	}
	return string(out), nil
}
