package auth

import (
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// BcryptHasher hashes passwords with bcrypt. Digests of any historical cost
// verify, NeedsRehash reports the ones below the configured cost.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher for the given cost, falling back to
// DefaultBcryptCost when cost is out of the bcrypt range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &BcryptHasher{cost: cost}
}

// Cost returns the work factor used for new digests
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash will generate a password hash
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrNoEmptyString
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", internalError(err, "failed to hash password")
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. Malformed digests are
// treated as a mismatch.
func (h *BcryptHasher) Verify(plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
	return err == nil
}

// NeedsRehash reports digests produced with a lower cost than configured
func (h *BcryptHasher) NeedsRehash(digest string) bool {
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return false
	}
	return cost < h.cost
}

// dummyDigest is compared against when the identifier is unknown so the
// response time does not reveal which usernames exist.
func dummyDigest(h PasswordHasher) string {
	digest, err := h.Hash(uuid.NewString())
	if err != nil {
		return ""
	}
	return digest
}
