package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type connStatus struct {
	ID     string         `json:"id"`
	State  string         `json:"state"`
	Remote string         `json:"remote"`
	Alive  bool           `json:"alive"`
	Data   map[string]any `json:"data"`
}

// handleStatus lists the registered connections.
func (s *Server) handleStatus(c *gin.Context) {
	conns := s.engine.Connections(nil)
	out := make([]connStatus, 0, len(conns))
	for _, conn := range conns {
		out = append(out, connStatus{
			ID:     conn.ID(),
			State:  conn.State().String(),
			Remote: conn.RemoteAddr(),
			Alive:  conn.Alive(),
			Data:   conn.CustomData(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"connections": out,
		"pending":     s.engine.Pending(),
		"data":        s.engine.GetCustomData(""),
	})
}
