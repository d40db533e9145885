package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"financeflow-bot/bot"
	"financeflow-bot/model"
	"financeflow-bot/parser"
	"financeflow-bot/store"
)

// Server exposes the bot status surface and link management over HTTP.
type Server struct {
	manager     *bot.Manager
	links       store.LinkStore
	txs         store.TransactionStore
	health      *store.Health
	initTimeout time.Duration
	log         zerolog.Logger
}

func New(manager *bot.Manager, links store.LinkStore, txs store.TransactionStore, health *store.Health, initTimeout time.Duration, log zerolog.Logger) *Server {
	return &Server{
		manager:     manager,
		links:       links,
		txs:         txs,
		health:      health,
		initTimeout: initTimeout,
		log:         log.With().Str("component", "server").Logger(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/telegram", s.getStatus)
	r.HEAD("/api/telegram", s.headHealth)
	r.DELETE("/api/telegram", s.cleanup)

	r.POST("/api/telegram/link", s.createLink)
	r.DELETE("/api/telegram/link/:accountId", s.deleteLink)
	r.POST("/api/telegram/migrate", s.migrate)

	return r
}

// getStatus reports the bot's state, initializing or re-checking it first
// when it is not known healthy.
func (s *Server) getStatus(c *gin.Context) {
	st := s.manager.Status()
	if !st.Initialized || !st.Polling {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.initTimeout)
		defer cancel()
		if _, err := s.manager.Acquire(ctx); err != nil {
			s.log.Error().Err(err).Msg("bot initialization failed")
			c.JSON(http.StatusInternalServerError, gin.H{
				"status":    "error",
				"message":   "Failed to initialize bot",
				"botStatus": s.manager.Status(),
			})
			return
		}
	}

	healthy := s.manager.CheckLiveness(c.Request.Context())
	message := "Telegram bot is running"
	status := "success"
	if !healthy {
		message = "Bot is running but may have issues"
		status = "warning"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"message":   message,
		"botStatus": s.manager.Status(),
		"lastCheck": time.Now().UTC(),
	})
}

// headHealth is the liveness endpoint: 200/503 plus status headers.
func (s *Server) headHealth(c *gin.Context) {
	healthy := s.manager.CheckLiveness(c.Request.Context())
	st := s.manager.Status()
	storeOK, _ := s.health.Status()

	verdict := "healthy"
	code := http.StatusOK
	if !healthy {
		verdict = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	c.Header("X-Bot-Status", verdict)
	c.Header("X-Last-Check", time.Now().UTC().Format(time.RFC3339))
	c.Header("X-Bot-Initialized", strconv.FormatBool(st.Initialized))
	c.Header("X-Bot-Polling", strconv.FormatBool(st.Polling))
	c.Header("X-Store-Connected", strconv.FormatBool(storeOK))
	c.Header("X-Error-Count", strconv.Itoa(st.ErrorCount))
	c.Status(code)
}

// cleanup shuts the bot down and releases the instance.
func (s *Server) cleanup(c *gin.Context) {
	if err := s.manager.Shutdown(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to cleanup bot",
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Bot cleanup completed",
	})
}

type linkRequest struct {
	AccountID        string `json:"accountId" binding:"required"`
	TelegramUsername string `json:"telegramUsername" binding:"required"`
}

// createLink starts (or restarts) the linking flow for an account: a new
// pending link with a fresh verification code, replacing any previous
// state for that account.
func (s *Server) createLink(c *gin.Context) {
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if !model.ValidAccountID(req.AccountID) {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid account id"})
		return
	}

	username := req.TelegramUsername
	if len(username) > 0 && username[0] == '@' {
		username = username[1:]
	}

	link := &model.AccountLink{
		AccountID:        req.AccountID,
		TelegramUsername: username,
		VerificationCode: parser.NewVerificationCode(),
		Verified:         false,
	}
	if err := s.links.Upsert(c.Request.Context(), link); err != nil {
		s.log.Error().Err(err).Str("account_id", req.AccountID).Msg("creating link failed")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to create link"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           "success",
		"verificationCode": link.VerificationCode,
	})
}

func (s *Server) deleteLink(c *gin.Context) {
	accountID := c.Param("accountId")
	if err := s.links.Delete(c.Request.Context(), accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "link not found"})
			return
		}
		s.log.Error().Err(err).Str("account_id", accountID).Msg("deleting link failed")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to delete link"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Telegram account unlinked"})
}

// migrate backfills the description column on older bot transactions that
// were stored without one.
func (s *Server) migrate(c *gin.Context) {
	updated, err := s.txs.BackfillDescriptions(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("description backfill failed")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "updated": updated})
}
