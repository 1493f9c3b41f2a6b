package ws

import (
	"context"
	"net/http"

	"github.com/dkeye/confrelay/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Runner owns an accepted connection until it ends.
type Runner interface {
	RunWorker(ctx context.Context, conn core.Conn)
}

type Controller struct {
	Runner  Runner
	Options Options
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the request and serves the participant on the request goroutine.
func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Str("token", token).Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "adapters.ws").Str("token", token).Str("remote", ws.RemoteAddr().String()).Msg("new WS participant")
	ctl.Runner.RunWorker(ctx, NewConn(ws, token, ctl.Options))
}
