package domain

import "time"

type RoomType string

const (
	RoomDirectMessage RoomType = "direct"
	RoomClassGroup    RoomType = "class"
	RoomCourseGroup   RoomType = "course"
)

type MessageKind string

const (
	MessageText  MessageKind = "text"
	MessageVoice MessageKind = "voice"
)

// Participant is a user known to a room. Name is the resolved display name;
// Email is only present when the backend shares it.
type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Online    bool   `json:"online,omitempty"`
}

type Message struct {
	ID              string      `json:"id,omitempty"`
	RoomID          string      `json:"room_id"`
	SenderID        string      `json:"sender_id"`
	SenderName      string      `json:"sender_name,omitempty"`
	SenderEmail     string      `json:"sender_email,omitempty"`
	Content         string      `json:"content"`
	Kind            MessageKind `json:"kind"`
	SentAt          time.Time   `json:"sent_at"`
	DurationSeconds int         `json:"duration_seconds,omitempty"`
}

// Room is a logical conversation channel. Rooms are never created client-side;
// they arrive through the room-list snapshot or are implied by message traffic.
type Room struct {
	ID           string        `json:"id"`
	Type         RoomType      `json:"type"`
	Name         string        `json:"name,omitempty"`
	ClassName    string        `json:"class_name,omitempty"`
	CourseName   string        `json:"course_name,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	UnreadCount  int           `json:"unread_count"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Participant returns the participant with the given id, if known.
func (r Room) Participant(id string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.ID == id {
			return p, true
		}
	}

	return Participant{}, false
}
