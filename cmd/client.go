package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/campuslink/chatsync/internal/adapters/secondary/directory"
	"github.com/campuslink/chatsync/internal/adapters/secondary/socket"
	"github.com/campuslink/chatsync/internal/domain"
	"github.com/campuslink/chatsync/internal/engine"
	"github.com/campuslink/chatsync/internal/infrastructure/config"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

func Client(ctx context.Context, c *cobra.Command) error {
	cfg := config.Load()

	userID, err := (&promptui.Prompt{Label: "User ID"}).Run()
	if err != nil {
		return fmt.Errorf("prompt.Run: %w", err)
	}

	name, err := (&promptui.Prompt{Label: "Full name"}).Run()
	if err != nil {
		return fmt.Errorf("prompt.Run: %w", err)
	}

	token, err := signIn(ctx, cfg.DirectoryURL, userID, name)
	if err != nil {
		return fmt.Errorf("signIn: %w", err)
	}

	transport := socket.NewTransport(wsURL(cfg.DirectoryURL) + "/ws")
	eng := engine.New(transport, engine.Identity{ID: userID, FullName: name})
	defer eng.Close()

	status := make(chan engine.Status, 8)
	off := eng.Subscribe(func(u engine.Update) {
		switch u.Kind {
		case engine.UpdateStatus:
			fmt.Printf("\n[%s]\n", u.Status)
			select {
			case status <- u.Status:
			default:
			}
		case engine.UpdateAppended:
			if u.RoomID != eng.ActiveRoom() {
				return
			}
			messages := eng.Messages(u.RoomID)
			if len(messages) == 0 {
				return
			}
			last := messages[len(messages)-1]
			fmt.Printf("%s: %s\n", last.SenderName, last.Content)
		case engine.UpdatePrepended:
			fmt.Printf("\n(loaded %d older messages)\n", u.Prepended)
		}
	})
	defer off()

	if err := eng.Connect(ctx, token); err != nil {
		return fmt.Errorf("engine.Connect: %w", err)
	}

	// The dial is asynchronous: joining before the transport settles would
	// fail with a not-connected error.
	if err := waitConnected(ctx, status); err != nil {
		return fmt.Errorf("waitConnected: %w", err)
	}

	rooms, err := directory.NewClient(cfg.DirectoryURL).Rooms(ctx, userID, token)
	if err != nil {
		return fmt.Errorf("directory.Rooms: %w", err)
	}
	eng.SeedRooms(rooms)

	roomID, err := pickRoom(eng)
	if err != nil {
		return fmt.Errorf("pickRoom: %w", err)
	}

	if err := eng.SetActiveRoom(roomID); err != nil {
		return fmt.Errorf("engine.SetActiveRoom: %w", err)
	}

	fmt.Println(`Type a message, "/older" for history, "/quit" to leave.`)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := (&promptui.Prompt{Label: ">"}).Run()
		if err != nil {
			return nil
		}

		switch strings.TrimSpace(line) {
		case "":
			continue
		case "/quit":
			return nil
		case "/older":
			if err := eng.LoadOlder(roomID); err != nil {
				fmt.Println("could not load history:", err)
			}
		default:
			if err := eng.Send(roomID, line, domain.MessageText, 0); err != nil {
				fmt.Println("could not send:", err)
			}
		}
	}
}

// waitConnected blocks until the transport settles. Intermediate statuses
// (the dial loop retries on its own) are skipped; only Connected and Error
// are terminal.
func waitConnected(ctx context.Context, status <-chan engine.Status) error {
	timeout := time.NewTimer(30 * time.Second)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("timed out waiting for the connection")
		case s := <-status:
			switch s {
			case engine.StatusConnected:
				return nil
			case engine.StatusError:
				return fmt.Errorf("connection failed")
			}
		}
	}
}

func pickRoom(eng *engine.Engine) (string, error) {
	views := eng.RoomViews()
	if len(views) == 0 {
		return "", fmt.Errorf("no rooms available")
	}

	labels := make([]string, 0, len(views))
	for _, v := range views {
		labels = append(labels, fmt.Sprintf("%s (%d unread)", v.DisplayName, v.UnreadCount))
	}

	idx, _, err := (&promptui.Select{Label: "Room", Items: labels}).Run()
	if err != nil {
		return "", fmt.Errorf("select.Run: %w", err)
	}

	return views[idx].ID, nil
}

func signIn(ctx context.Context, baseURL, userID, name string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"user_id": userID,
		"name":    name,
		"email":   userID + "@school.example",
	})
	if err != nil {
		return "", fmt.Errorf("json.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sign-in responded with status %d", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("json.Decode: %w", err)
	}

	return payload.Token, nil
}

func wsURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return "ws://" + baseURL
	}
}
