package dto

import (
	"time"

	"github.com/noah-isme/gatepass-api/internal/models"
)

// CreateGatePassRequest payload submitted by a student. Times are RFC 3339.
type CreateGatePassRequest struct {
	Reason             string `json:"reason" validate:"required"`
	Destination        string `json:"destination" validate:"required"`
	OutTime            string `json:"outTime" validate:"required"`
	ExpectedReturnTime string `json:"expectedReturnTime" validate:"required"`
}

// GatePassQuery mirrors supported listing filters as received from the client.
type GatePassQuery struct {
	Status    string `form:"status"`
	Stage     string `form:"stage"`
	StudentID string `form:"studentId"`
	ActedByMe bool   `form:"actedByMe"`
	Page      int    `form:"page"`
	PageSize  int    `form:"pageSize"`
}

// DecisionRequest captures an approver's action on the current stage.
type DecisionRequest struct {
	Action  string `json:"action" validate:"required"`
	Remarks string `json:"remarks"`
}

// ScanRequest carries the decoded QR payload.
type ScanRequest struct {
	Key string `json:"key" validate:"required"`
}

// ScanResult is returned after a successful redemption.
type ScanResult struct {
	Type          models.UsageType      `json:"type"`
	RemainingUses int                   `json:"remainingUses"`
	Token         *models.GatePassToken `json:"token"`
	RequestID     string                `json:"requestId"`
}

// GatePassSummary aggregates request counts for the actor's default scope.
type GatePassSummary struct {
	Scope       string                        `json:"scope"`
	Counts      map[models.GatePassStatus]int `json:"counts"`
	Total       int                           `json:"total"`
	GeneratedAt time.Time                     `json:"generatedAt"`
}

// SlipLink points at a signed, time-limited PDF download.
type SlipLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}
