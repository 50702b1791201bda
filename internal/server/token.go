package server

import "github.com/google/uuid"

// TokenGenerator mints the bearer token the server hands out when it starts
// without a configured one.
type TokenGenerator interface {
	Generate() string
}

// UUIDGenerator issues time-ordered UUIDs, falling back to random ones when
// the clock-based variant is unavailable.
type UUIDGenerator struct{}

func (UUIDGenerator) Generate() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
