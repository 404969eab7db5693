package sessions

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Session is a persistent refresh session. Only the hash of the refresh
// token is stored.
type Session struct {
	TokenHash string    `bson:"_id" json:"tokenHash"`
	UserID    string    `bson:"userId" json:"userId"`
	ExpiresAt time.Time `bson:"expiresAt" json:"expiresAt"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// HashToken is the storage key for a refresh token.
func HashToken(refresh string) string {
	sum := sha256.Sum256([]byte(refresh))
	return hex.EncodeToString(sum[:])
}
