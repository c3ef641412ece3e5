package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	"github.com/metergate/metergate/pkg/db"
)

// registerDevRoutes exposes bootstrap endpoints for non-production
// environments: user registration and key issuance live outside this
// service in production deployments.
func (s *Server) registerDevRoutes() {
	if s.cfg.Environment == "production" {
		return
	}

	dev := s.engine.Group("/dev")
	dev.POST("/users", s.DevCreateUser)
	dev.POST("/users/:user_id/api-keys", s.DevIssueAPIKey)
}

func (s *Server) DevCreateUser(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if req.Email == "" || req.Name == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id := s.genID.Generate()
	err := s.db.WithContext(c.Request.Context()).Exec(
		`INSERT INTO users (id, email, name, subscription_status, created_at, updated_at)
		 VALUES (?, ?, ?, 'inactive', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		id, req.Email, req.Name,
	).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			AbortWithError(c, ErrConflict)
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":    id,
		"email": req.Email,
		"name":  req.Name,
	})
}

func (s *Server) DevIssueAPIKey(c *gin.Context) {
	userID, err := snowflake.ParseString(c.Param("user_id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.apiKeySvc.Generate(c.Request.Context(), userID, req.Name)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"api_key": resp,
		"warning": "Store this key now. It cannot be retrieved again.",
	})
}
