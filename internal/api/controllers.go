package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"executor-core/internal/emergency"
	"executor-core/internal/risk"
	"executor-core/internal/strategy"
)

func accepted(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

func rejected(c *gin.Context, status int, reason string) {
	c.JSON(status, gin.H{"accepted": false, "reason": reason})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"instanceId":  s.Meta.InstanceID,
		"version":     s.Meta.Version,
		"dryRun":      s.Meta.DryRun,
		"useMockFeed": s.Meta.UseMockFeed,
		"emergency":   s.Emergency.Status(),
		"queueDepth":  s.Queue.Len(),
	})
}

func (s *Server) getStrategies(c *gin.Context) {
	type view struct {
		Definition strategy.Definition `json:"definition"`
		State      strategy.State      `json:"state"`
		Errors     int                 `json:"consecutiveErrors"`
	}
	out := make([]view, 0)
	for _, m := range s.Registry.List() {
		out = append(out, view{
			Definition: m.Definition(),
			State:      m.State(),
			Errors:     m.ConsecutiveErrors(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"strategies": out})
}

// startStrategy accepts an optional definition body; without one it restarts
// the already-registered definition.
func (s *Server) startStrategy(c *gin.Context) {
	id := c.Param("id")

	if c.Request.ContentLength > 0 {
		var def strategy.Definition
		if err := c.BindJSON(&def); err != nil {
			rejected(c, http.StatusBadRequest, "invalid definition payload")
			return
		}
		if def.ID == "" {
			def.ID = id
		}
		if def.ID != id {
			rejected(c, http.StatusBadRequest, "definition id does not match path")
			return
		}
		if err := s.Registry.Start(def); err != nil {
			rejected(c, http.StatusConflict, err.Error())
			return
		}
		s.persistStrategy(def)
		accepted(c)
		return
	}

	if _, err := s.Registry.Get(id); err != nil {
		rejected(c, http.StatusNotFound, err.Error())
		return
	}
	if err := s.Registry.Restart(id); err != nil {
		rejected(c, http.StatusConflict, err.Error())
		return
	}
	accepted(c)
}

func (s *Server) stopStrategy(c *gin.Context) {
	m, err := s.Registry.Get(c.Param("id"))
	if err != nil {
		rejected(c, http.StatusNotFound, err.Error())
		return
	}
	if err := m.Stop(); err != nil {
		rejected(c, http.StatusConflict, err.Error())
		return
	}
	accepted(c)
}

func (s *Server) pauseStrategy(c *gin.Context) {
	m, err := s.Registry.Get(c.Param("id"))
	if err != nil {
		rejected(c, http.StatusNotFound, err.Error())
		return
	}
	if err := m.Pause(); err != nil {
		rejected(c, http.StatusConflict, err.Error())
		return
	}
	accepted(c)
}

func (s *Server) resumeStrategy(c *gin.Context) {
	m, err := s.Registry.Get(c.Param("id"))
	if err != nil {
		rejected(c, http.StatusNotFound, err.Error())
		return
	}
	if err := m.Resume(); err != nil {
		rejected(c, http.StatusConflict, err.Error())
		return
	}
	accepted(c)
}

func (s *Server) updateStrategy(c *gin.Context) {
	id := c.Param("id")
	m, err := s.Registry.Get(id)
	if err != nil {
		rejected(c, http.StatusNotFound, err.Error())
		return
	}
	var def strategy.Definition
	if err := c.BindJSON(&def); err != nil {
		rejected(c, http.StatusBadRequest, "invalid definition payload")
		return
	}
	if def.ID == "" {
		def.ID = id
	}
	if err := m.Update(def); err != nil {
		rejected(c, http.StatusConflict, err.Error())
		return
	}
	s.persistStrategy(def)
	accepted(c)
}

func (s *Server) persistStrategy(def strategy.Definition) {
	if s.DB == nil {
		return
	}
	// Best effort; the live registry is authoritative.
	_ = s.DB.SaveStrategy(def.ID, def.Name, def.Symbol, string(def.Timeframe), "", def)
}

func (s *Server) getLimits(c *gin.Context) {
	c.JSON(http.StatusOK, s.Validator.Limits())
}

func (s *Server) updateLimits(c *gin.Context) {
	var limits risk.Limits
	if err := c.BindJSON(&limits); err != nil {
		rejected(c, http.StatusBadRequest, "invalid limits payload")
		return
	}
	if err := s.Validator.UpdateLimits(limits); err != nil {
		rejected(c, http.StatusBadRequest, err.Error())
		return
	}
	accepted(c)
}

func (s *Server) getEmergency(c *gin.Context) {
	c.JSON(http.StatusOK, s.Emergency.Status())
}

func (s *Server) triggerEmergency(c *gin.Context) {
	var req struct {
		Reason   string             `json:"reason"`
		Severity emergency.Severity `json:"severity"`
	}
	_ = c.BindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual stop"
	}
	switch req.Severity {
	case emergency.SeverityNormal, emergency.SeverityHigh, emergency.SeverityCritical:
	default:
		req.Severity = emergency.SeverityCritical
	}
	s.Emergency.Trigger(req.Reason, req.Severity)
	accepted(c)
}

func (s *Server) clearEmergency(c *gin.Context) {
	if err := s.Emergency.Clear(); err != nil {
		rejected(c, http.StatusConflict, err.Error())
		return
	}
	accepted(c)
}

func (s *Server) getAccount(c *gin.Context) {
	c.JSON(http.StatusOK, s.Accounts.Get())
}

func (s *Server) getCommands(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := s.DB.RecentCommands(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": rows})
}
