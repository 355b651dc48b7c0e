package models

import "time"

// TokenStatus tracks the redeemability of a gate pass token. It only moves
// forward: active to used or revoked.
type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "active"
	TokenStatusUsed    TokenStatus = "used"
	TokenStatusRevoked TokenStatus = "revoked"
)

// UsageType classifies one redemption of a token.
type UsageType string

const (
	UsageTypeExit  UsageType = "exit"
	UsageTypeEntry UsageType = "entry"
	UsageTypeScan  UsageType = "scan"
)

// DefaultTokenUses is one exit plus one entry.
const DefaultTokenUses = 2

// TokenKeyBytes is the random length of a token value before hex encoding.
const TokenKeyBytes = 12

// GatePassToken is the physical-gate credential issued on approval.
type GatePassToken struct {
	ID          string      `db:"id" json:"id"`
	RequestID   string      `db:"request_id" json:"requestId"`
	Value       string      `db:"value" json:"value"`
	UsesAllowed int         `db:"uses_allowed" json:"usesAllowed"`
	UsesCount   int         `db:"uses_count" json:"usesCount"`
	Status      TokenStatus `db:"status" json:"status"`
	ExpiresAt   time.Time   `db:"expires_at" json:"expiresAt"`
	CreatedAt   time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updatedAt"`

	Usages []UsageEntry `db:"-" json:"usageLog,omitempty"`
}

// RemainingUses never reports a negative value.
func (t *GatePassToken) RemainingUses() int {
	if t == nil {
		return 0
	}
	if remaining := t.UsesAllowed - t.UsesCount; remaining > 0 {
		return remaining
	}
	return 0
}

// UsageEntry records one successful scan.
type UsageEntry struct {
	ID        string    `db:"id" json:"id"`
	TokenID   string    `db:"token_id" json:"tokenId"`
	ActorID   string    `db:"actor_id" json:"actorId"`
	Type      UsageType `db:"usage_type" json:"type"`
	ScannedAt time.Time `db:"scanned_at" json:"timestamp"`
}
