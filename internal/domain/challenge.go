package domain

import "time"

// FactorType is the kind of second factor.
type FactorType string

// FactorTOTP is a time-based one-time password generator.
const FactorTOTP FactorType = "totp"

// FactorStatus tracks whether enrollment of a factor was completed.
type FactorStatus string

const (
	FactorUnverified FactorStatus = "unverified"
	FactorVerified   FactorStatus = "verified"
)

// Factor is a registered second-factor credential.
type Factor struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Type      FactorType   `json:"factor_type"`
	Status    FactorStatus `json:"status"`
	Secret    string       `json:"-"`
	CreatedAt time.Time    `json:"created_at"`
}

// IsVerified returns true once the factor has passed a verification.
func (f *Factor) IsVerified() bool {
	return f.Status == FactorVerified
}

// Challenge is a single-use verification attempt bound to one factor.
type Challenge struct {
	ID         string     `json:"id"`
	FactorID   string     `json:"factor_id"`
	Attempts   int        `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"-"`
}

// Expired returns true if the challenge can no longer be answered at now.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Consumed returns true once a correct code has been accepted.
func (c *Challenge) Consumed() bool {
	return c.ConsumedAt != nil
}
