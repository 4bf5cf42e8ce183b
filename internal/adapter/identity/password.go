package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Parameters of the legacy credential format.
const (
	pbkdf2Iterations = 1000
	pbkdf2KeyLen     = 32
	saltBytes        = 10
)

// PBKDF2Hasher stores passwords as "salt:hash", both hex encoded. The hex
// salt string itself is the PBKDF2 salt.
type PBKDF2Hasher struct{}

func NewPBKDF2Hasher() PBKDF2Hasher {
	return PBKDF2Hasher{}
}

func (PBKDF2Hasher) Hash(password string) (string, error) {
	raw := make([]byte, saltBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	salt := hex.EncodeToString(raw)
	return salt + ":" + derive(password, salt), nil
}

func (PBKDF2Hasher) Verify(password, encoded string) bool {
	salt, hash, ok := strings.Cut(encoded, ":")
	if !ok || salt == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(derive(password, salt)), []byte(hash)) == 1
}

func derive(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	return hex.EncodeToString(key)
}
