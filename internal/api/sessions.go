package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vibetunnel-go/vibetunneld/internal/config"
	"github.com/vibetunnel-go/vibetunneld/internal/ptysvc"
)

type sessionHandler struct {
	sup *ptysvc.Supervisor
	cfg *config.Config
}

// createSessionRequest is the POST /api/sessions body.
type createSessionRequest struct {
	Command    []string          `json:"command" binding:"required"`
	Name       string            `json:"name"`
	WorkingDir string            `json:"workingDir"`
	Cols       int               `json:"cols"`
	Rows       int               `json:"rows"`
	Env        map[string]string `json:"env"`
}

func (h *sessionHandler) list(c *gin.Context) {
	sessions, err := h.sup.List()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *sessionHandler) get(c *gin.Context) {
	info, err := h.sup.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *sessionHandler) create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cols, rows := req.Cols, req.Rows
	if cols <= 0 {
		cols = h.cfg.DefaultCols
	}
	if rows <= 0 {
		rows = h.cfg.DefaultRows
	}

	info, err := h.sup.Create(req.Command, ptysvc.Options{
		Name:       req.Name,
		WorkingDir: req.WorkingDir,
		Cols:       cols,
		Rows:       rows,
		Env:        req.Env,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (h *sessionHandler) terminate(c *gin.Context) {
	sig := ptysvc.SIGTERM
	if s := c.Query("signal"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			sig = n
		}
	}
	if err := h.sup.Kill(c.Param("id"), sig); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type sendInputRequest struct {
	Text string `json:"text"`
	Key  string `json:"key"`
}

func (h *sessionHandler) input(c *gin.Context) {
	var req sendInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.sup.SendInput(c.Param("id"), req.Text, req.Key); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type resizeRequest struct {
	Cols int `json:"cols" binding:"required"`
	Rows int `json:"rows" binding:"required"`
}

func (h *sessionHandler) resize(c *gin.Context) {
	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.sup.Resize(c.Param("id"), req.Cols, req.Rows); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
