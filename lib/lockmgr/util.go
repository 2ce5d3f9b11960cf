package lockmgr

import (
	"crypto/rand"
)

const (
	ownerIDLength = 32
)

// generateOwnerID creates a new random owner ID
func generateOwnerID() ([]byte, error) {
	randomBytes := make([]byte, ownerIDLength)
	_, err := rand.Read(randomBytes)
	return randomBytes, err
}
