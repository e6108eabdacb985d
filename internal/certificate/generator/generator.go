// Package generator produces certificate identifiers guaranteed not to
// collide with existing records. Generation draws random candidates and
// checks them against the store; the final uniqueness guarantee stays with
// the store's atomic insert, so no lock is held here.
package generator

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"certmint/pkg/certid"
	dErrors "certmint/pkg/domain-errors"
)

// maxAttempts bounds candidate redraws. With 16 free base-36 characters the
// keyspace is ~7.9e24, so exhausting the budget signals something is badly
// wrong, never ordinary collision pressure.
const maxAttempts = 10

// ExistenceChecker answers whether an identifier is already taken.
// Implemented by the record store.
type ExistenceChecker interface {
	ExistsID(ctx context.Context, certificateID string) (bool, error)
}

// Generator synthesizes unique certificate identifiers.
type Generator struct {
	store ExistenceChecker
	rand  io.Reader
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand replaces the entropy source. Tests inject deterministic readers
// to force collisions.
func WithRand(r io.Reader) Option {
	return func(g *Generator) {
		g.rand = r
	}
}

// New builds a Generator backed by crypto/rand.
func New(store ExistenceChecker, opts ...Option) *Generator {
	g := &Generator{store: store, rand: rand.Reader}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns an identifier whose MMYY suffix derives from validTo and
// which no existing record holds. Collisions redraw up to the attempt
// budget; running out surfaces as identifier-space exhaustion.
func (g *Generator) Generate(ctx context.Context, validTo time.Time) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeTimeout, "identifier generation cancelled")
		}

		randomPart, err := randomString(g.rand, certid.RandomLen)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "draw random identifier part")
		}

		id, err := certid.Encode(randomPart, validTo)
		if err != nil {
			return "", err
		}

		exists, err := g.store.ExistsID(ctx, id)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "check identifier existence")
		}
		if !exists {
			return id, nil
		}
	}

	return "", dErrors.New(dErrors.CodeExhausted,
		fmt.Sprintf("no free identifier after %d attempts", maxAttempts))
}

// randomString draws n characters from the identifier alphabet using
// rejection sampling, keeping the distribution uniform.
func randomString(r io.Reader, n int) (string, error) {
	const alphabetLen = len(certid.Alphabet)
	// Largest byte value that maps onto the alphabet without modulo bias.
	maxUsable := byte(256 / alphabetLen * alphabetLen)

	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read entropy: %w", err)
		}
		for _, b := range buf {
			if b >= maxUsable {
				continue
			}
			out = append(out, certid.Alphabet[int(b)%alphabetLen])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
