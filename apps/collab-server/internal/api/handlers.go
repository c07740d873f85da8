package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qamatch/collab/pkg/collaboration"
)

// maxHistoryLimit caps the history page size
const maxHistoryLimit = 1000

func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active_sessions": s.coordinator.ActiveSessionsCount(),
		"active_users":    s.coordinator.TotalActiveUsers(),
	})
}

func (s *Server) getSession(c *gin.Context) {
	info, err := s.coordinator.SessionInfo(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) getHistory(c *gin.Context) {
	limit := collaboration.DefaultHistoryQueryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be a positive integer",
				"code":  collaboration.ErrCodeInvalidParams,
			})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	documentID := c.Param("id")
	history, err := s.coordinator.EditHistory(documentID, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"content_id": documentID,
		"history":    history,
		"count":      len(history),
	})
}

func (s *Server) saveSession(c *gin.Context) {
	documentID := c.Param("id")
	content, err := s.coordinator.SaveContent(c.Request.Context(), documentID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"content_id": documentID,
		"content":    content,
		"saved":      true,
	})
}

// writeError renders err with its HTTP status and wire code
func (s *Server) writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(collaboration.HTTPStatus(err), gin.H{
		"error": collaboration.PublicMessage(err),
		"code":  collaboration.ErrorCode(err),
	})
}
