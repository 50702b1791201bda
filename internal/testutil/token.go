package testutil

// FixedTokenGenerator returns the same ingest token every time.
//
// This enables deterministic test execution and golden snapshot comparison:
// the same scenario with the same FixedTokenGenerator produces
// byte-identical responses and log rows.
//
// Unlike server.UUIDGenerator, which mints a fresh UUIDv7 per request, this
// generator always returns the token it was built with.
//
// Thread-safety: FixedTokenGenerator is stateless and safe for concurrent
// use.
type FixedTokenGenerator struct {
	token string
}

// NewFixedTokenGenerator creates a fixed token generator.
//
// If token is empty, Generate() returns "test-token-default".
func NewFixedTokenGenerator(token string) *FixedTokenGenerator {
	if token == "" {
		token = "test-token-default"
	}
	return &FixedTokenGenerator{token: token}
}

// Generate returns the fixed token.
//
// Implements server.TokenGenerator.
func (g *FixedTokenGenerator) Generate() string {
	return g.token
}
