package http

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetrelay/internal/adapters/signal"
	"github.com/dkeye/meetrelay/internal/adapters/store"
	"github.com/dkeye/meetrelay/internal/app/orch"
	"github.com/dkeye/meetrelay/internal/config"
	"github.com/dkeye/meetrelay/internal/core"
)

const clientTokenKey = "ct"

// ClientTokenMiddleware gives every browser a stable id kept in the signed
// session cookie. It only tags logs; identity inside a meeting is the name.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// API holds what the handlers need.
type API struct {
	cfg    *config.Config
	orch   *orch.Orchestrator
	facade *store.Facade
	health core.HealthReader
}

func SetupRouter(cfg *config.Config, o *orch.Orchestrator, ctl *signal.SignalWSController, facade *store.Facade, health core.HealthReader) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(cfg.Secret))
	cookieStore.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("MeetSessions", cookieStore))
	r.Use(ClientTokenMiddleware())

	a := &API{cfg: cfg, orch: o, facade: facade, health: health}
	if len(cfg.APITokens) == 0 {
		log.Warn().Str("module", "adapters.http").Msg("no api_tokens configured, any bearer token may create meetings")
	}

	api := r.Group("/api")
	api.GET("/health", a.getHealth)
	api.GET("/ice-servers", a.getICEServers)

	meetings := api.Group("/meetings")
	meetings.POST("", BearerAuth(cfg.APITokens), a.createMeeting)
	meetings.GET("/:token", a.getMeeting)
	meetings.DELETE("/:token", BearerAuth(nil), a.endMeeting)
	meetings.GET("/:token/messages", a.getMessages)
	meetings.GET("/:token/climate", a.getClimate)
	meetings.GET("/:token/tests/:id/responses", BearerAuth(nil), a.getTestResponses)

	api.POST("/webhooks/payment", a.paymentWebhook)

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(c)
	})

	log.Info().Str("module", "adapters.http").Str("public_url", cfg.PublicURL).Msg("router setup")
	return r
}
