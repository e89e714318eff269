package utils

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// CodeHasher — bcrypt over the numeric code. Adaptive cost, constant-time
// comparison, no decrypt: a lost digest means the code can only be
// regenerated.
type CodeHasher struct {
	cost int
}

// NewCodeHasher clamps cost into bcrypt's range; 0 picks the default,
// which lands around the ~100ms target on current hardware.
func NewCodeHasher(cost int) *CodeHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &CodeHasher{cost: cost}
}

func (h *CodeHasher) Hash(code string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(code), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt generate: %w", err)
	}
	return string(digest), nil
}

func (h *CodeHasher) Compare(code, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(code)) == nil
}
