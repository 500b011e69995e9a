package server

import (
	"crewline/internal/domain"
	"crewline/internal/engine"
)

type CreateAssignmentRequest struct {
	ID          *string `json:"id,omitempty"`
	PrimaryID   string  `json:"primary_participant_id"`
	SecondaryID *string `json:"secondary_participant_id,omitempty"`
	Couple      string  `json:"couple"`
	Date        string  `json:"date" example:"2025-06-01"`
	StartTime   string  `json:"start_time" example:"16:00"`
	ArrivalTime *string `json:"arrival_time,omitempty" example:"15:30"`
	Venue       *string `json:"venue,omitempty"`
	Location    *string `json:"location,omitempty"`
	Memo        *string `json:"memo,omitempty"`
}

type UpdateAssignmentRequest struct {
	PrimaryID   *string `json:"primary_participant_id,omitempty"`
	SecondaryID *string `json:"secondary_participant_id,omitempty"`
	Couple      *string `json:"couple,omitempty"`
	Date        *string `json:"date,omitempty"`
	StartTime   *string `json:"start_time,omitempty"`
	ArrivalTime *string `json:"arrival_time,omitempty"`
	Venue       *string `json:"venue,omitempty"`
	Location    *string `json:"location,omitempty"`
	Memo        *string `json:"memo,omitempty"`
	Status      *string `json:"status,omitempty" enum:"unassigned,assigned,confirmed"`
}

type ConfirmRequest struct {
	AssignmentIDs []string `json:"assignment_ids"`
	ParticipantID *string  `json:"participant_id,omitempty"`
}

type ConfirmResponse struct {
	Results []engine.ConfirmResult `json:"results"`
}

type ReportProgressRequest struct {
	ParticipantID *string `json:"participant_id,omitempty"`
	Status        string  `json:"status" enum:"wakeup,departure,arrival,completed"`
	Memo          *string `json:"memo,omitempty"`
	EstimatedTime *string `json:"estimated_time,omitempty"`
}

type CreateParticipantRequest struct {
	ID    *string `json:"id,omitempty"`
	Name  string  `json:"name"`
	Phone *string `json:"phone,omitempty"`
}

type MintAPIKeyRequest struct {
	Name *string `json:"name,omitempty"`
}

type MintAPIKeyResponse struct {
	ID            string `json:"id"`
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name,omitempty"`
	Key           string `json:"key"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func mintResponse(k domain.APIKey, plaintext string) MintAPIKeyResponse {
	return MintAPIKeyResponse{
		ID:            k.ID,
		ParticipantID: k.ParticipantID,
		Name:          k.Name,
		Key:           plaintext,
		CreatedAt:     k.CreatedAt,
	}
}
