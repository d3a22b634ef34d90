package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mkarev/CoWatch/internal/adapters/signal"
	"github.com/mkarev/CoWatch/internal/app"
	"github.com/mkarev/CoWatch/internal/config"
)

// ClientTokenMiddleware tags every browser with a stable token, used only to
// correlate reconnects in logs. Participant ids stay connection-scoped.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type statusResponse struct {
	Status                string `json:"status"`
	Timestamp             string `json:"timestamp"`
	ActiveRoomCount       int    `json:"activeRoomCount"`
	TotalParticipantCount int    `json:"totalParticipantCount"`
}

func SetupRouter(cfg *config.Config, registry *app.RoomRegistry, relay *signal.Relay) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("CoWatchSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/status", func(c *gin.Context) {
		rooms, participants := registry.Snapshot()
		c.JSON(http.StatusOK, statusResponse{
			Status:                "ok",
			Timestamp:             time.Now().UTC().Format(time.RFC3339),
			ActiveRoomCount:       rooms,
			TotalParticipantCount: participants,
		})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client_token", c.GetString("client_token")).Msg("ws signal endpoint hit")
		relay.HandleSignal(c)
	})

	return r
}
