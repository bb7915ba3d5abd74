package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NicolasHaas/warden/pkg/auth"
	"github.com/NicolasHaas/warden/pkg/command"
	"github.com/NicolasHaas/warden/pkg/metrics"
	"github.com/NicolasHaas/warden/pkg/model"
	"github.com/NicolasHaas/warden/pkg/version"
)

// issueBody is the JSON body of ban, mute and kick requests.
type issueBody struct {
	Duration string `json:"duration"`
	Reason   string `json:"reason"`
	Issuer   string `json:"issuer"`
}

// revokeBody is the JSON body of unban and unmute requests.
type revokeBody struct {
	Actor string `json:"actor"`
}

type issueFunc func(context.Context, command.Request) (*model.Punishment, error)
type revokeFunc func(ctx context.Context, target, actor string) (bool, error)

// Router builds the admin HTTP API.
func (s *Server) Router() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.logsMiddleware())

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "path": c.Request.URL.Path})
	})

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Get()})
	})
	engine.GET("/metrics", func(c *gin.Context) {
		c.Header("Content-Type", metrics.ContentType)
		c.Status(http.StatusOK)
		s.metrics.WritePrometheus(c.Writer)
	})

	api := engine.Group("/api")
	if s.apiAuth != nil {
		api.Use(s.authMiddleware())
	}
	{
		api.GET("/sessions", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"sessions": s.sessions.All()})
		})
		api.GET("/punishments/:id", s.handleLookup)

		subj := api.Group("/subjects/:subject")
		subj.GET("/status", s.handleStatus)
		subj.GET("/history", s.handleHistory)
		subj.POST("/ban", s.handleIssue(s.commands.Ban))
		subj.POST("/mute", s.handleIssue(s.commands.Mute))
		subj.POST("/kick", s.handleIssue(s.commands.Kick))
		subj.POST("/unban", s.handleRevoke(s.commands.Unban))
		subj.POST("/unmute", s.handleRevoke(s.commands.Unmute))
	}
	return engine
}

func (s *Server) logsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"remote", c.ClientIP(),
			"took", time.Since(start))
	}
}

// authMiddleware rejects requests without the configured bearer token.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.apiAuth.Verify(auth.BearerToken(c.GetHeader("Authorization"))) {
			s.log.Warn("unauthorized API request", "path", c.Request.URL.Path, "remote", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// fail writes err the way a moderator should see it. Input problems are
// 400s; everything else is a 503 worth retrying.
func fail(c *gin.Context, err error) {
	status := http.StatusServiceUnavailable
	if command.Rejected(err) {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": command.UserMessage(err)})
}

func (s *Server) handleLookup(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid punishment id"})
		return
	}
	p, err := s.commands.Lookup(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such punishment"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.commands.Status(c.Request.Context(), c.Param("subject"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleHistory(c *gin.Context) {
	subject, history, err := s.commands.History(c.Request.Context(), c.Param("subject"))
	if err != nil {
		fail(c, err)
		return
	}
	if c.Query("format") == "yaml" {
		data, err := ExportHistoryYAML(subject, history, s.engine.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/yaml; charset=utf-8", data)
		return
	}
	if history == nil {
		history = []model.Punishment{}
	}
	c.JSON(http.StatusOK, gin.H{"subject": subject, "punishments": history})
}

func (s *Server) handleIssue(issue issueFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body issueBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		p, err := issue(c.Request.Context(), command.Request{
			Target:   c.Param("subject"),
			Duration: body.Duration,
			Reason:   body.Reason,
			Issuer:   body.Issuer,
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

func (s *Server) handleRevoke(revoke revokeFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body revokeBody
		// An empty body is fine; the console issuer is recorded.
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}
		lifted, err := revoke(c.Request.Context(), c.Param("subject"), body.Actor)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"lifted": lifted})
	}
}
