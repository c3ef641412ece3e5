package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

func (s *Server) ListAPIKeys(c *gin.Context) {
	record := s.authRecord(c)
	if record == nil {
		AbortWithError(c, ErrInvalidCredential)
		return
	}

	keys, err := s.apiKeySvc.List(c.Request.Context(), record.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"api_keys": keys})
}

func (s *Server) CreateAPIKey(c *gin.Context) {
	record := s.authRecord(c)
	if record == nil {
		AbortWithError(c, ErrInvalidCredential)
		return
	}

	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.apiKeySvc.Generate(c.Request.Context(), record.UserID, req.Name)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"api_key": resp,
		"warning": "Store this key now. It cannot be retrieved again.",
	})
}

func (s *Server) RevokeAPIKey(c *gin.Context) {
	record := s.authRecord(c)
	if record == nil {
		AbortWithError(c, ErrInvalidCredential)
		return
	}

	keyID, err := snowflake.ParseString(c.Param("key_id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	// A key that does not exist or belongs to another user revokes as a
	// no-op; the response does not reveal which.
	if err := s.apiKeySvc.Revoke(c.Request.Context(), record.UserID, keyID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": true})
}
