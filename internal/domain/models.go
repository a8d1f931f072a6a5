package domain

import "time"

// User represents a CrowdAid account as returned by the REST API.
type User struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	PhoneNumber *string   `json:"phoneNumber,omitempty"`
	Role        string    `json:"role"` // USER, VOLUNTEER or ADMIN
	AvatarURL   *string   `json:"avatarUrl,omitempty"`
	Bio         *string   `json:"bio,omitempty"`
	IsAvailable bool      `json:"isAvailable"`
	Skills      []string  `json:"skills,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Conversation is the client-observed view of a chat thread. Identifiers are
// opaque strings minted by the server.
type Conversation struct {
	ID               string            `json:"id"`
	ParticipantIDs   []string          `json:"participants"`
	ParticipantNames map[string]string `json:"participantNames,omitempty"`
	LastMessage      *Message          `json:"lastMessage,omitempty"`
	UnreadCount      int               `json:"unreadCount"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// Message is a single chat message. Sender identity is denormalized so the
// client can render without a user lookup.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	IsRead         bool      `json:"isRead"`
}

// Help request lifecycle states.
const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusCancelled  = "CANCELLED"
)

// Help request priorities.
const (
	PriorityLow      = "LOW"
	PriorityMedium   = "MEDIUM"
	PriorityHigh     = "HIGH"
	PriorityCritical = "CRITICAL"
)

// GeoPoint is a GeoJSON-style point: coordinates are [longitude, latitude].
type GeoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
	Address     *string    `json:"address,omitempty"`
}

// HelpRequest represents a request for assistance.
type HelpRequest struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	Category    string    `json:"category"`
	RequesterID int64     `json:"requesterId"`
	VolunteerID *int64    `json:"volunteerId,omitempty"`
	Location    GeoPoint  `json:"location"`
	Images      []string  `json:"images,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Requester   *User     `json:"requester,omitempty"`
	Volunteer   *User     `json:"volunteer,omitempty"`
}
