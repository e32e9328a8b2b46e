package password

import (
	"golang.org/x/crypto/bcrypt"
)

// Short-lived one-time codes use a lower cost than account passwords would.
const codeCost = bcrypt.MinCost + 4

// HashCode hashes a one-time code using bcrypt
func HashCode(code string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(code), codeCost)
	return string(bytes), err
}

// VerifyCode compares a one-time code with its hash
func VerifyCode(code, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
