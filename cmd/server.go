package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	subscriber "github.com/campuslink/chatsync/internal/adapters/primary/redis"
	"github.com/campuslink/chatsync/internal/adapters/primary/ws"
	"github.com/campuslink/chatsync/internal/adapters/secondary/broadcaster"
	"github.com/campuslink/chatsync/internal/adapters/secondary/store"
	"github.com/campuslink/chatsync/internal/domain"
	"github.com/campuslink/chatsync/internal/infrastructure/auth"
	"github.com/campuslink/chatsync/internal/infrastructure/config"
	"github.com/campuslink/chatsync/internal/infrastructure/redis"
	"github.com/campuslink/chatsync/internal/infrastructure/runner"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func Server(ctx context.Context, cmd *cobra.Command) error {
	cfg := config.Load()

	redisClient := redis.NewClient(cfg.RedisAddr)
	signer := auth.NewSigner(cfg.JWTSecret, 24*time.Hour)

	roomStore := store.NewMemoryRoomStore()
	seedDemoRooms(roomStore)

	hub := domain.NewHubService(roomStore, broadcaster.NewBroadcaster(redisClient))
	wsHandler := ws.NewHandler(hub, signer)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Development sign-in: trades an identity for a handshake token.
	router.POST("/v1/token", func(c *gin.Context) {
		var body struct {
			UserID string `json:"user_id" binding:"required"`
			Name   string `json:"name" binding:"required"`
			Email  string `json:"email"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		token, err := signer.Sign(body.UserID, body.Name, body.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not sign token"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	router.GET("/v1/users/:id/rooms", func(c *gin.Context) {
		rooms, err := roomStore.Rooms(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list rooms"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"rooms": rooms})
	})

	router.GET("/ws", wsHandler.Handle)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	r := runner.New(ctx)

	r.Go(func(ctx context.Context) error {
		slog.InfoContext(ctx, "starting server", "address", cfg.HTTPAddr)

		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("srv.ListenAndServe: %w", err)
				return
			}
			errCh <- nil
		}()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.ErrorContext(ctx, "error shutting down server", "error", err)
			}
			return ctx.Err()
		case err := <-errCh:
			return err
		}
	})

	r.Go(func(ctx context.Context) error {
		sub := subscriber.NewSubscriber(redisClient, hub)

		slog.InfoContext(ctx, "starting broadcast subscriber", "channel", domain.BroadcastChannel)
		if err := sub.Subscribe(ctx, domain.BroadcastChannel); err != nil {
			return fmt.Errorf("sub.Subscribe: %w", err)
		}

		return nil
	})

	if err := r.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("runner.Wait: %w", err)
	}

	return nil
}

// seedDemoRooms installs a couple of rooms so a fresh process is usable
// without the portal database.
func seedDemoRooms(s *store.MemoryRoomStore) {
	alice := domain.Participant{ID: "u1", Name: "Alice Martin", Email: "alice@school.example"}
	bob := domain.Participant{ID: "u2", Name: "Bob Lopez", Email: "bob@school.example"}
	carol := domain.Participant{ID: "u3", Name: "Carol Diaz", Email: "carol@school.example"}

	s.Seed(domain.Room{
		ID:           "dm-alice-bob",
		Type:         domain.RoomDirectMessage,
		Participants: []domain.Participant{alice, bob},
	})

	s.Seed(domain.Room{
		ID:           "class-7b",
		Type:         domain.RoomClassGroup,
		ClassName:    "7-B",
		Participants: []domain.Participant{alice, bob, carol},
	})

	s.Seed(domain.Room{
		ID:           "course-algebra",
		Type:         domain.RoomCourseGroup,
		CourseName:   "Algebra",
		Participants: []domain.Participant{alice, carol},
	})
}
