package bookings

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

const (
	referencePrefix   = "SB"
	referenceSuffixN  = 6
	referenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	tokenBytes        = 32

	// DefaultTokenValidity is how long a management token stays usable.
	DefaultTokenValidity = 30 * 24 * time.Hour
)

// RetryPolicy bounds how many times the issuer regenerates identifiers after
// a collision before giving up with IssuanceExhausted.
type RetryPolicy struct {
	MaxAttempts int
}

// DefaultRetryPolicy allows five attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultRetryPolicy().MaxAttempts
	}
	return p.MaxAttempts
}

// IdentifierProbe answers whether an identifier has ever been issued.
type IdentifierProbe interface {
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	TokenExists(ctx context.Context, tokenHash string) (bool, error)
}

// Credentials are the identifiers minted for a new booking.
type Credentials struct {
	Reference string
	Token     string
	TokenHash string
	ExpiresAt time.Time
}

// Issuer mints booking references and management tokens.
type Issuer struct {
	probe    IdentifierProbe
	policy   RetryPolicy
	validity time.Duration
	now      func() time.Time
	random   io.Reader
}

// NewIssuer creates an issuer that checks uniqueness through probe.
func NewIssuer(probe IdentifierProbe, validity time.Duration, policy RetryPolicy) *Issuer {
	if probe == nil {
		panic("bookings: identifier probe required")
	}
	if validity <= 0 {
		validity = DefaultTokenValidity
	}
	return &Issuer{
		probe:    probe,
		policy:   policy,
		validity: validity,
		now:      time.Now,
		random:   rand.Reader,
	}
}

// WithClock overrides the time source.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	if now != nil {
		i.now = now
	}
	return i
}

// WithRandom overrides the entropy source.
func (i *Issuer) WithRandom(r io.Reader) *Issuer {
	if r != nil {
		i.random = r
	}
	return i
}

// Issue returns a fresh reference stamped with the appointment date and a
// management token. The uniqueness probe is only a read; the persisted
// unique indexes remain the final guard.
func (i *Issuer) Issue(ctx context.Context, date string) (Credentials, error) {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return Credentials{}, validationError("date", "date must be formatted YYYY-MM-DD")
	}

	attempts := i.policy.attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Credentials{}, err
		}

		reference, err := i.newReference(day)
		if err != nil {
			return Credentials{}, err
		}
		taken, err := i.probe.ReferenceExists(ctx, reference)
		if err != nil {
			return Credentials{}, fmt.Errorf("bookings: probe reference: %w", err)
		}
		if taken {
			continue
		}

		token, err := i.newToken()
		if err != nil {
			return Credentials{}, err
		}
		hash := HashToken(token)
		taken, err = i.probe.TokenExists(ctx, hash)
		if err != nil {
			return Credentials{}, fmt.Errorf("bookings: probe token: %w", err)
		}
		if taken {
			continue
		}

		return Credentials{
			Reference: reference,
			Token:     token,
			TokenHash: hash,
			ExpiresAt: i.now().UTC().Add(i.validity),
		}, nil
	}

	return Credentials{}, &Error{
		Kind:    KindIssuanceExhausted,
		Message: fmt.Sprintf("could not issue a unique booking reference after %d attempts", attempts),
	}
}

func (i *Issuer) newReference(day time.Time) (string, error) {
	buf := make([]byte, referenceSuffixN)
	if _, err := io.ReadFull(i.random, buf); err != nil {
		return "", fmt.Errorf("bookings: read entropy: %w", err)
	}
	suffix := make([]byte, referenceSuffixN)
	for idx, b := range buf {
		suffix[idx] = referenceAlphabet[int(b)%len(referenceAlphabet)]
	}
	return fmt.Sprintf("%s-%s-%s", referencePrefix, day.Format("20060102"), suffix), nil
}

func (i *Issuer) newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(i.random, buf); err != nil {
		return "", fmt.Errorf("bookings: read entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the storage form of a management token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// tokenMatches compares a presented token against a stored hash in constant time.
func tokenMatches(token, storedHash string) bool {
	if token == "" || storedHash == "" {
		return false
	}
	presented := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(storedHash)) == 1
}
