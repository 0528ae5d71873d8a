package engine

import (
	"hash/fnv"
	"strings"
	"time"

	"github.com/campuslink/chatsync/internal/domain"
)

// avatarPalette is the fixed set of fallback avatar colors. The palette index
// comes from one stable hash so the same identity renders the same color on
// every surface.
var avatarPalette = []string{
	"#e57373", "#f06292", "#ba68c8", "#9575cd",
	"#7986cb", "#64b5f6", "#4fc3f7", "#4dd0e1",
	"#4db6ac", "#81c784", "#ffb74d", "#a1887f",
}

// Avatar describes how to render a room or participant likeness: an image
// when one exists, otherwise generated initials over a deterministic color.
type Avatar struct {
	ImageURL string
	Initials string
	Color    string
}

// RoomView is the display-ready projection of a room for a given viewer.
type RoomView struct {
	ID          string
	DisplayName string
	Avatar      Avatar
	Online      bool
	UnreadCount int
	LastMessage *domain.Message
	UpdatedAt   time.Time
}

// DayGroup buckets consecutive messages that share a calendar day.
type DayGroup struct {
	Label    string
	Messages []domain.Message
}

// RoomViews projects every known room for the engine's identity, in the
// order Rooms returns them.
func (e *Engine) RoomViews() []RoomView {
	rooms := e.Rooms()
	views := make([]RoomView, 0, len(rooms))
	for _, room := range rooms {
		views = append(views, NewRoomView(room, e.self.ID))
	}

	return views
}

func NewRoomView(room domain.Room, viewerID string) RoomView {
	name := DisplayName(room, viewerID)

	view := RoomView{
		ID:          room.ID,
		DisplayName: name,
		UnreadCount: room.UnreadCount,
		LastMessage: room.LastMessage,
		UpdatedAt:   room.UpdatedAt,
	}

	colorKey := room.ID
	var imageURL string
	if room.Type == domain.RoomDirectMessage {
		if other, ok := otherParticipant(room, viewerID); ok {
			view.Online = other.Online
			imageURL = other.AvatarURL
			if other.ID != "" {
				colorKey = other.ID
			}
		}
	}
	if colorKey == "" {
		colorKey = name
	}

	view.Avatar = Avatar{
		ImageURL: imageURL,
		Initials: Initials(name),
		Color:    AvatarColor(colorKey),
	}

	return view
}

// DisplayName derives a human name for a room: the other participant for a
// direct message, the group name otherwise, synthesized from class or course
// metadata when no explicit name exists.
func DisplayName(room domain.Room, viewerID string) string {
	if room.Type == domain.RoomDirectMessage {
		if other, ok := otherParticipant(room, viewerID); ok && other.Name != "" {
			return other.Name
		}
	}

	if room.Name != "" {
		return room.Name
	}

	switch {
	case room.Type == domain.RoomClassGroup && room.ClassName != "":
		return "Class " + room.ClassName
	case room.Type == domain.RoomCourseGroup && room.CourseName != "":
		return "Course: " + room.CourseName
	}

	names := make([]string, 0, len(room.Participants))
	for _, p := range room.Participants {
		if p.ID == viewerID || p.Name == "" {
			continue
		}
		names = append(names, p.Name)
	}
	if len(names) > 0 {
		return strings.Join(names, ", ")
	}

	return room.ID
}

// Initials reduces a display name to at most two uppercase letters, taken
// from the first and last word.
func Initials(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}

	first := []rune(fields[0])
	initials := strings.ToUpper(string(first[0]))
	if len(fields) > 1 {
		last := []rune(fields[len(fields)-1])
		initials += strings.ToUpper(string(last[0]))
	}

	return initials
}

// AvatarColor maps a stable key to a palette color via FNV-1a. Every color
// derivation in the application goes through this function.
func AvatarColor(key string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))

	return avatarPalette[h.Sum32()%uint32(len(avatarPalette))]
}

// GroupMessagesByDay buckets messages by calendar day in the viewer's local
// time zone. Labels are "Today", "Yesterday", then a locale date. Message
// order within and across groups is preserved.
func GroupMessagesByDay(messages []domain.Message, now time.Time) []DayGroup {
	var groups []DayGroup
	for _, m := range messages {
		label := dayLabel(m.SentAt, now)
		if n := len(groups); n > 0 && groups[n-1].Label == label {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}

		groups = append(groups, DayGroup{Label: label, Messages: []domain.Message{m}})
	}

	return groups
}

// dayLabel compares calendar days, not elapsed time: a message from 23:59
// yesterday is "Yesterday" even one minute later.
func dayLabel(t, now time.Time) string {
	local := t.Local()
	today := now.Local()

	ty, tm, td := local.Date()
	ny, nm, nd := today.Date()
	if ty == ny && tm == nm && td == nd {
		return "Today"
	}

	yy, ym, yd := today.AddDate(0, 0, -1).Date()
	if ty == yy && tm == ym && td == yd {
		return "Yesterday"
	}

	return local.Format("Jan 2, 2006")
}

func otherParticipant(room domain.Room, viewerID string) (domain.Participant, bool) {
	for _, p := range room.Participants {
		if p.ID != viewerID {
			return p, true
		}
	}

	return domain.Participant{}, false
}
