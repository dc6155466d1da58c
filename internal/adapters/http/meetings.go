package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetrelay/internal/app/meeting"
	"github.com/dkeye/meetrelay/internal/domain"
)

const (
	maxCapacity     = 100
	defaultHistory  = 50
	paymentPaid     = "paid"
	paymentFailed   = "failed"
	paymentPending  = "pending"
	endedByHost     = "ended-by-host"
	maxHistoryLimit = 1000
)

type createMeetingRequest struct {
	HostName        string          `json:"host_name"`
	MaxParticipants int             `json:"max_participants"`
	Settings        json.RawMessage `json:"settings"`
}

func (a *API) createMeeting(c *gin.Context) {
	var req createMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	host, err := domain.NormalizeName(req.HostName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	capacity := req.MaxParticipants
	if capacity <= 0 {
		capacity = a.cfg.Meeting.DefaultMaxParticipants
	}
	if capacity > maxCapacity {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_participants too large"})
		return
	}
	if len(req.Settings) > 0 && !json.Valid(req.Settings) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "settings must be json"})
		return
	}

	ctx := c.Request.Context()
	token := domain.Token(uuid.NewString())
	m, err := a.orch.Repo.CreateMeeting(ctx, token, host, capacity, req.Settings)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("create meeting")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not create meeting"})
		return
	}
	err = a.orch.Repo.UpdateSessionMetadata(ctx, token, domain.SessionMetadata{
		domain.MetaCreator:       host,
		domain.MetaCreatorHash:   credentialHash(c.GetString(bearerKey)),
		domain.MetaCapacity:      strconv.Itoa(capacity),
		domain.MetaUserAgent:     c.Request.UserAgent(),
		domain.MetaPaymentStatus: paymentPending,
	})
	if err != nil {
		// Without the creator hash nobody could end the meeting.
		log.Error().Err(err).Str("module", "adapters.http").Str("token", string(token)).Msg("write metadata")
		_ = a.orch.Repo.DeleteMeeting(ctx, token)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not create meeting"})
		return
	}

	log.Info().Str("module", "adapters.http").Str("token", string(token)).Str("host", host).Int("max", capacity).Msg("meeting created")
	c.JSON(http.StatusCreated, gin.H{
		"token":    token,
		"join_url": strings.TrimRight(a.cfg.PublicURL, "/") + "/join/" + string(token),
		"meeting":  m,
	})
}

// loadMeeting writes the 404 itself; ok is false when the handler should stop.
func (a *API) loadMeeting(c *gin.Context) (*domain.Meeting, bool) {
	m, err := a.orch.Repo.GetMeeting(c.Request.Context(), domain.Token(c.Param("token")))
	if errors.Is(err, meeting.ErrMeetingNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("get meeting")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return nil, false
	}
	return m, true
}

// requireHost checks the request's bearer against the creator hash.
func (a *API) requireHost(c *gin.Context, token domain.Token) bool {
	meta, err := a.orch.Repo.GetSessionMetadata(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return false
	}
	if !sameCredential(c.GetString(bearerKey), meta[domain.MetaCreatorHash]) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the meeting host"})
		return false
	}
	return true
}

func (a *API) getMeeting(c *gin.Context) {
	m, ok := a.loadMeeting(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"meeting":      m,
		"participants": a.orch.LiveCount(m.Token),
		"expired":      m.Expired(time.Now()),
	})
}

func (a *API) endMeeting(c *gin.Context) {
	m, ok := a.loadMeeting(c)
	if !ok || !a.requireHost(c, m.Token) {
		return
	}
	if err := a.orch.EndMeeting(c.Request.Context(), m.Token, endedByHost); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("token", string(m.Token)).Msg("end meeting")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "meeting ended with storage errors"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended", "token": m.Token})
}

func (a *API) getMessages(c *gin.Context) {
	m, ok := a.loadMeeting(c)
	if !ok {
		return
	}
	limit := defaultHistory
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	msgs, err := a.orch.Repo.GetMessages(c.Request.Context(), m.Token, limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (a *API) getClimate(c *gin.Context) {
	m, ok := a.loadMeeting(c)
	if !ok {
		return
	}
	climate, err := a.orch.Repo.GetEmotionalClimate(c.Request.Context(), m.Token)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, climate)
}

func (a *API) getTestResponses(c *gin.Context) {
	m, ok := a.loadMeeting(c)
	if !ok || !a.requireHost(c, m.Token) {
		return
	}
	ctx := c.Request.Context()
	t, err := a.orch.Repo.GetSociometricTest(ctx, m.Token, c.Param("id"))
	if errors.Is(err, meeting.ErrTestNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "test not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}
	resps, err := a.orch.Repo.GetSociometricResponses(ctx, m.Token, t.ID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"test": t, "responses": resps})
}

func (a *API) paymentWebhook(c *gin.Context) {
	var req struct {
		Token  string `json:"token"`
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if req.Status != paymentPaid && req.Status != paymentFailed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be paid or failed"})
		return
	}
	ctx := c.Request.Context()
	token := domain.Token(req.Token)
	_, err := a.orch.Repo.GetMeeting(ctx, token)
	if errors.Is(err, meeting.ErrMeetingNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("token", req.Token).Msg("payment webhook: read meeting")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}
	err = a.orch.Repo.UpdateSessionMetadata(ctx, token, domain.SessionMetadata{
		domain.MetaPaymentStatus: req.Status,
		domain.MetaPaymentAt:     strconv.FormatInt(time.Now().Unix(), 10),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("token", req.Token).Msg("payment webhook")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}
	log.Info().Str("module", "adapters.http").Str("token", req.Token).Str("status", req.Status).Msg("payment status merged")
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

func (a *API) getICEServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": a.cfg.WebRTC().ICEServers})
}

func (a *API) getHealth(c *gin.Context) {
	body := gin.H{
		"storage":  a.health.State().String(),
		"durable":  a.facade.Durable(),
		"rooms":    len(a.orch.Registry.Rooms()),
		"sessions": a.orch.Registry.SessionCount(),
	}
	if !a.facade.Durable() {
		body["fallback"] = a.facade.Fallback().Stats()
	}
	c.JSON(http.StatusOK, body)
}
