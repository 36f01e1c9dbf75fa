package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vibetunnel-go/vibetunneld/internal/federation"
)

type remoteHandler struct {
	registry *federation.Registry
}

type registerRemoteRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name" binding:"required"`
	URL   string `json:"url" binding:"required"`
	Token string `json:"token"`
}

func (h *remoteHandler) register(c *gin.Context) {
	var req registerRemoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	remote := &federation.Remote{ID: id, Name: req.Name, URL: req.URL, Token: req.Token}
	if err := h.registry.Register(remote); err != nil {
		if errors.Is(err, federation.ErrDuplicateName) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": remote.ID})
}

func (h *remoteHandler) unregister(c *gin.Context) {
	h.registry.Unregister(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type refreshSessionsRequest struct {
	Action    string `json:"action" binding:"required"`
	SessionID string `json:"sessionId" binding:"required"`
}

// refreshSessions is called by a remote's control-dir watcher
// (federation.HQClient.NotifySessionChange) whenever it observes a
// session created or deleted outside the HQ's own knowledge.
func (h *remoteHandler) refreshSessions(c *gin.Context) {
	var req refreshSessionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	remote, ok := h.registry.GetByName(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "remote not registered"})
		return
	}

	switch req.Action {
	case "created":
		h.registry.AddSession(remote.ID, req.SessionID)
	case "deleted":
		h.registry.ClearSession(req.SessionID)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
