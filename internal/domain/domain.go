package domain

type Assignment struct {
	ID          string  `json:"id"`
	PrimaryID   string  `json:"primary_participant_id"`
	SecondaryID *string `json:"secondary_participant_id,omitempty"`
	Couple      string  `json:"couple"`
	Date        string  `json:"date"`       // YYYY-MM-DD
	StartTime   string  `json:"start_time"` // HH:MM, ceremony start
	ArrivalTime *string `json:"arrival_time,omitempty"`
	Venue       string  `json:"venue,omitempty"`
	Location    string  `json:"location,omitempty"`
	Memo        string  `json:"memo,omitempty"`
	Status      string  `json:"status" enum:"unassigned,assigned,confirmed"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

// RequiredParticipants returns the quorum set: the primary participant plus
// the secondary when one is assigned.
func (a Assignment) RequiredParticipants() []string {
	ids := []string{a.PrimaryID}
	if a.SecondaryID != nil && *a.SecondaryID != "" {
		ids = append(ids, *a.SecondaryID)
	}
	return ids
}

// IsRequiredParticipant reports whether id belongs to the quorum set.
func (a Assignment) IsRequiredParticipant(id string) bool {
	for _, p := range a.RequiredParticipants() {
		if p == id {
			return true
		}
	}
	return false
}

type ConfirmationRecord struct {
	AssignmentID  string `json:"assignment_id"`
	ParticipantID string `json:"participant_id"`
	Confirmed     bool   `json:"confirmed"`
	ConfirmedAt   string `json:"confirmed_at,omitempty" format:"date-time"`
}

type ProgressRecord struct {
	AssignmentID  string         `json:"assignment_id"`
	ParticipantID string         `json:"participant_id"`
	Role          string         `json:"role" enum:"MAIN,SUB"`
	Status        ProgressStatus `json:"status" enum:"pending,wakeup,wakeup_delayed,departure,departure_delayed,arrival,arrival_delayed,completed,canceled,delayed"`
	Memo          string         `json:"memo,omitempty"`
	EstimatedTime string         `json:"estimated_time,omitempty"`
	ReportedAt    string         `json:"reported_at,omitempty" format:"date-time"`
	CreatedAt     string         `json:"created_at" format:"date-time"`
	UpdatedAt     string         `json:"updated_at" format:"date-time"`
}

type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID            string `json:"id"`
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name,omitempty"`
	KeyHash       string `json:"key_hash"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}
