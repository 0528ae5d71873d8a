package engine_test

import (
	"testing"
	"time"

	"github.com/campuslink/chatsync/internal/domain"
	"github.com/campuslink/chatsync/internal/engine"
	"github.com/stretchr/testify/require"
)

func TestDisplayName(t *testing.T) {
	t.Parallel()

	t.Run("it should use the other participant for a direct message", func(t *testing.T) {
		room := domain.Room{
			ID:   "r1",
			Type: domain.RoomDirectMessage,
			Participants: []domain.Participant{
				{ID: "u1", Name: "Alice Martin"},
				{ID: "u2", Name: "Bob Lopez"},
			},
		}

		require.Equal(t, "Bob Lopez", engine.DisplayName(room, "u1"))
		require.Equal(t, "Alice Martin", engine.DisplayName(room, "u2"))
	})

	t.Run("it should prefer the explicit group name", func(t *testing.T) {
		room := domain.Room{ID: "r2", Type: domain.RoomClassGroup, Name: "Homeroom 7B"}
		require.Equal(t, "Homeroom 7B", engine.DisplayName(room, "u1"))
	})

	t.Run("it should synthesize a name from class metadata", func(t *testing.T) {
		room := domain.Room{ID: "r2", Type: domain.RoomClassGroup, ClassName: "7-B"}
		require.Equal(t, "Class 7-B", engine.DisplayName(room, "u1"))
	})

	t.Run("it should synthesize a name from course metadata", func(t *testing.T) {
		room := domain.Room{ID: "r3", Type: domain.RoomCourseGroup, CourseName: "Algebra"}
		require.Equal(t, "Course: Algebra", engine.DisplayName(room, "u1"))
	})
}

func TestAvatar(t *testing.T) {
	t.Parallel()

	t.Run("it should derive at most two initials", func(t *testing.T) {
		require.Equal(t, "BL", engine.Initials("Bob Lopez"))
		require.Equal(t, "B", engine.Initials("bob"))
		require.Equal(t, "BL", engine.Initials("Bob van Lopez"))
		require.Empty(t, engine.Initials(""))
	})

	t.Run("it should derive the same color for the same identity", func(t *testing.T) {
		first := engine.AvatarColor("u2")
		for i := 0; i < 10; i++ {
			require.Equal(t, first, engine.AvatarColor("u2"))
		}
	})

	t.Run("it should expose the online flag of the direct peer", func(t *testing.T) {
		room := domain.Room{
			ID:   "r1",
			Type: domain.RoomDirectMessage,
			Participants: []domain.Participant{
				{ID: "u1", Name: "Alice Martin"},
				{ID: "u2", Name: "Bob Lopez", Online: true},
			},
		}

		view := engine.NewRoomView(room, "u1")
		require.True(t, view.Online)
		require.Equal(t, "BL", view.Avatar.Initials)
		require.Equal(t, engine.AvatarColor("u2"), view.Avatar.Color)
	})
}

func TestGroupMessagesByDay(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.August, 28, 9, 0, 0, 0, time.Local)

	messages := []domain.Message{
		{Content: "old", SentAt: time.Date(2026, time.August, 20, 12, 0, 0, 0, time.Local)},
		{Content: "late night", SentAt: time.Date(2026, time.August, 27, 23, 59, 0, 0, time.Local)},
		{Content: "early", SentAt: time.Date(2026, time.August, 28, 0, 1, 0, 0, time.Local)},
		{Content: "recent", SentAt: time.Date(2026, time.August, 28, 8, 30, 0, 0, time.Local)},
	}

	groups := engine.GroupMessagesByDay(messages, now)

	require.Len(t, groups, 3)
	require.Equal(t, "Aug 20, 2026", groups[0].Label)
	require.Equal(t, "Yesterday", groups[1].Label)
	require.Equal(t, "Today", groups[2].Label)
	require.Len(t, groups[2].Messages, 2)

	t.Run("it should bucket by calendar day rather than elapsed time", func(t *testing.T) {
		// 9h1m apart, but one minute into a new day.
		require.Equal(t, "Yesterday", groups[1].Label)
		require.Equal(t, "late night", groups[1].Messages[0].Content)
		require.Equal(t, "early", groups[2].Messages[0].Content)
	})
}
