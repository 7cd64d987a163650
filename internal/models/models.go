package models

import "time"

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

type User struct {
	ID           string    `json:"id" db:"id" bson:"_id"`
	Username     string    `json:"username" db:"username" bson:"username"`
	Email        string    `json:"email" db:"email" bson:"email"`
	PasswordHash string    `json:"-" db:"password_hash" bson:"password_hash"`
	Role         string    `json:"role" db:"role" bson:"role"`
	IsActive     bool      `json:"isActive" db:"is_active" bson:"is_active"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at" bson:"created_at"`
}

// Identity is what a resolved session carries for the lifetime of a connection.
type Identity struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

const (
	SubscriptionRequested = "requested"
	SubscriptionApproved  = "approved"
	SubscriptionDenied    = "denied"
	SubscriptionCancelled = "cancelled"
)

type Subscription struct {
	ID              string     `json:"id" db:"id" bson:"_id"`
	PatientID       string     `json:"patientId" db:"patient_id" bson:"patient_id"`
	DoctorID        string     `json:"doctorId" db:"doctor_id" bson:"doctor_id"`
	Status          string     `json:"status" db:"status" bson:"status"`
	RequestMessage  *string    `json:"requestMessage,omitempty" db:"request_message" bson:"request_message,omitempty"`
	ResponseMessage *string    `json:"responseMessage,omitempty" db:"response_message" bson:"response_message,omitempty"`
	RequestedAt     time.Time  `json:"requestedAt" db:"requested_at" bson:"requested_at"`
	RespondedAt     *time.Time `json:"respondedAt,omitempty" db:"responded_at" bson:"responded_at,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty" db:"expires_at" bson:"expires_at,omitempty"`
	IsActive        bool       `json:"isActive" db:"is_active" bson:"is_active"`
	ConsentGiven    bool       `json:"consentGiven" db:"consent_given" bson:"consent_given"`
	ConsentDate     *time.Time `json:"consentDate,omitempty" db:"consent_date" bson:"consent_date,omitempty"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at" bson:"created_at"`
	UpdatedAt       time.Time  `json:"updatedAt" db:"updated_at" bson:"updated_at"`
}

// IsOpen reports whether the subscription still counts against the
// one-open-per-pair constraint.
func (s *Subscription) IsOpen() bool {
	return s.Status == SubscriptionRequested || s.Status == SubscriptionApproved
}

func (s *Subscription) IsParticipant(userID string) bool {
	return userID != "" && (userID == s.PatientID || userID == s.DoctorID)
}

// Counterpart returns the other party of the subscription, or false when
// userID is neither the patient nor the doctor.
func (s *Subscription) Counterpart(userID string) (string, bool) {
	switch userID {
	case s.PatientID:
		return s.DoctorID, true
	case s.DoctorID:
		return s.PatientID, true
	default:
		return "", false
	}
}

const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

var statusRank = map[string]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusRead:      2,
}

// StatusRank orders delivery statuses; unknown statuses rank -1.
func StatusRank(status string) int {
	if r, ok := statusRank[status]; ok {
		return r
	}
	return -1
}

// StatusesBelow lists the statuses a message may hold and still advance to status.
func StatusesBelow(status string) []string {
	target := StatusRank(status)
	var out []string
	for _, s := range []string{StatusSent, StatusDelivered, StatusRead} {
		if statusRank[s] < target {
			out = append(out, s)
		}
	}
	return out
}

type Message struct {
	ID             string    `json:"id" db:"id" bson:"_id"`
	SubscriptionID string    `json:"subscriptionId" db:"subscription_id" bson:"subscription_id"`
	FromUserID     string    `json:"fromUserId" db:"from_user_id" bson:"from_user_id"`
	ToUserID       string    `json:"toUserId" db:"to_user_id" bson:"to_user_id"`
	Content        string    `json:"content" db:"content" bson:"content"`
	MessageType    string    `json:"messageType" db:"message_type" bson:"message_type"`
	Status         string    `json:"status" db:"status" bson:"status"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at" bson:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at" bson:"updated_at"`
}

type AuditLog struct {
	ID           string            `json:"id" db:"id" bson:"_id"`
	Action       string            `json:"action" db:"action" bson:"action"`
	UserID       string            `json:"userId" db:"user_id" bson:"user_id"`
	ResourceType string            `json:"resourceType" db:"resource_type" bson:"resource_type"`
	ResourceID   string            `json:"resourceId" db:"resource_id" bson:"resource_id"`
	Metadata     map[string]string `json:"metadata,omitempty" db:"-" bson:"metadata,omitempty"`
	IPAddress    string            `json:"ipAddress,omitempty" db:"ip_address" bson:"ip_address,omitempty"`
	UserAgent    string            `json:"userAgent,omitempty" db:"user_agent" bson:"user_agent,omitempty"`
	CreatedAt    time.Time         `json:"createdAt" db:"created_at" bson:"created_at"`
}

type PushSubscription struct {
	UserID    string    `json:"userId" db:"user_id" bson:"user_id"`
	Endpoint  string    `json:"endpoint" db:"endpoint" bson:"_id"`
	P256dh    string    `json:"p256dh" db:"p256dh" bson:"p256dh"`
	Auth      string    `json:"auth" db:"auth" bson:"auth"`
	CreatedAt time.Time `json:"createdAt" db:"created_at" bson:"created_at"`
}
