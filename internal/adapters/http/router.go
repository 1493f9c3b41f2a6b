package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/confrelay/internal/adapters/datagram"
	"github.com/dkeye/confrelay/internal/adapters/ws"
	"github.com/dkeye/confrelay/internal/app/orch"
	"github.com/dkeye/confrelay/internal/config"
	"github.com/dkeye/confrelay/internal/core"
	"github.com/dkeye/confrelay/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

// ClientTokenMiddleware keeps a per-browser token in the session and exposes it
// to handlers under "client_token".
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			s.Set(clientTokenKey, token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

// SetupRouter builds the operator API and the WebSocket participant endpoint.
// dgram may be nil when the datagram channel is disabled.
func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, dgram *datagram.Server) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RelaySessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	api.GET("/stats", func(c *gin.Context) {
		resp := gin.H{"registry": o.Registry.Stats()}
		if dgram != nil {
			resp["datagram"] = dgram.Stats()
		}
		c.JSON(http.StatusOK, resp)
	})

	api.GET("/conferences", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Registry.List())
	})

	api.GET("/conferences/:id", func(c *gin.Context) {
		id, ok := conferenceParam(c)
		if !ok {
			return
		}
		conf, found := o.Registry.Lookup(id)
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": core.ErrNotFound.Error()})
			return
		}
		c.JSON(http.StatusOK, conf.Snapshot(true))
	})

	api.DELETE("/conferences/:id", func(c *gin.Context) {
		id, ok := conferenceParam(c)
		if !ok {
			return
		}
		if err := o.EvictConference(id); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		log.Info().Str("module", "adapters.http").Str("conference", id.String()).Str("sid", c.GetString(clientTokenKey)).Msg("conference evicted")
		c.Status(http.StatusNoContent)
	})

	api.GET("/media", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Media.Bindings())
	})

	ctrl := &ws.Controller{
		Runner: o,
		Options: ws.Options{
			MaxFrameSize: cfg.MaxFrameSize,
			SendQueue:    cfg.SendQueue,
			WriteTimeout: cfg.WriteTimeout,
			PingPeriod:   cfg.PingPeriod,
		},
	}
	api.GET("/ws", func(c *gin.Context) {
		ctrl.Handle(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

func conferenceParam(c *gin.Context) (domain.ConferenceID, bool) {
	id, err := domain.ParseConferenceID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false
	}
	return id, true
}
