package models

import (
	"strings"
	"time"
)

// Stage names the step of the approval chain a request currently sits at.
type Stage string

const (
	StageClassIncharge Stage = "class_incharge"
	StageHOD           Stage = "hod"
	StageDean          Stage = "dean"
	StageVC            Stage = "vc"
	StageWarden        Stage = "warden"
	StageCompleted     Stage = "completed"
)

// GatePassStatus captures the lifecycle state of a request.
type GatePassStatus string

const (
	GatePassStatusPending  GatePassStatus = "pending"
	GatePassStatusApproved GatePassStatus = "approved"
	GatePassStatusRejected GatePassStatus = "rejected"
	// GatePassStatusCancelled is reserved. No transition produces it.
	GatePassStatusCancelled GatePassStatus = "cancelled"
)

// DecisionAction enumerates the actions an approver may take on a stage.
type DecisionAction string

const (
	DecisionForward DecisionAction = "forwarded"
	DecisionApprove DecisionAction = "approved"
	DecisionReject  DecisionAction = "rejected"
)

// ParseStage validates a stage name.
func ParseStage(raw string) (Stage, bool) {
	switch s := Stage(strings.ToLower(strings.TrimSpace(raw))); s {
	case StageClassIncharge, StageHOD, StageDean, StageVC, StageWarden, StageCompleted:
		return s, true
	}
	return "", false
}

// ParseGatePassStatus validates a status name.
func ParseGatePassStatus(raw string) (GatePassStatus, bool) {
	switch s := GatePassStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case GatePassStatusPending, GatePassStatusApproved, GatePassStatusRejected, GatePassStatusCancelled:
		return s, true
	}
	return "", false
}

// GatePassRequest is one student's exit application.
type GatePassRequest struct {
	ID                 string         `db:"id" json:"id"`
	StudentID          string         `db:"student_id" json:"studentId"`
	Reason             string         `db:"reason" json:"reason"`
	Destination        string         `db:"destination" json:"destination"`
	OutTime            time.Time      `db:"out_time" json:"outTime"`
	ExpectedReturnTime time.Time      `db:"expected_return_time" json:"expectedReturnTime"`
	Status             GatePassStatus `db:"status" json:"status"`
	CurrentStage       Stage          `db:"current_stage" json:"currentStage"`
	TokenID            *string        `db:"gatepass_token_id" json:"tokenId,omitempty"`
	StudentCourse      string         `db:"student_course" json:"studentCourse,omitempty"`
	StudentRoomNumber  string         `db:"student_room_number" json:"studentRoomNumber,omitempty"`
	LastActionAt       *time.Time     `db:"last_action_at" json:"lastActionAt,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updatedAt"`

	Student *StudentSummary `db:"-" json:"student,omitempty"`
	History []DecisionEntry `db:"-" json:"history"`
	Token   *GatePassToken  `db:"-" json:"token,omitempty"`
}

// HasActor reports whether userID appears as an actor in the request history.
func (r *GatePassRequest) HasActor(userID string) bool {
	for _, entry := range r.History {
		if entry.ActorID == userID {
			return true
		}
	}
	return false
}

// DecisionEntry is an immutable record of one stage action.
type DecisionEntry struct {
	ID          string         `db:"id" json:"id"`
	RequestID   string         `db:"request_id" json:"requestId"`
	Stage       Stage          `db:"stage" json:"stage"`
	Action      DecisionAction `db:"action" json:"action"`
	ActorID     string         `db:"actor_id" json:"actorId"`
	ActorName   string         `db:"actor_name" json:"actorName,omitempty"`
	ActorRole   Role           `db:"actor_role" json:"actorRole"`
	Remarks     *string        `db:"remarks" json:"remarks,omitempty"`
	ForwardedTo *Stage         `db:"forwarded_to" json:"forwardedTo,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"timestamp"`
}

// StudentSummary is the subset of the student profile returned with a request.
type StudentSummary struct {
	ID         string `db:"id" json:"id"`
	FullName   string `db:"full_name" json:"fullName"`
	Email      string `db:"email" json:"email"`
	Course     string `db:"course" json:"course,omitempty"`
	RoomNumber string `db:"room_number" json:"roomNumber,omitempty"`
}

// GatePassFilter constrains listing queries.
type GatePassFilter struct {
	Status    GatePassStatus
	Stage     Stage
	StudentID string
	ActedBy   string
	Course    string
	Page      int
	PageSize  int
}

// GatePassStatusCount is one row of the per-status summary.
type GatePassStatusCount struct {
	Status GatePassStatus `db:"status" json:"status"`
	Total  int            `db:"total" json:"total"`
}
