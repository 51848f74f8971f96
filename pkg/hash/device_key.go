package hash

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

// MinKeyLength is the shortest accepted device enrollment key.
const MinKeyLength = 16

func Hash(key string) (string, error) {
	if len(key) < MinKeyLength {
		return "", fmt.Errorf("device key must be at least %d characters", MinKeyLength)
	}

	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash device key: %w", err)
	}

	return string(hashedBytes), nil
}

func Compare(hashedKey, key string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedKey), []byte(key))
}
