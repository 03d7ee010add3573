package shardstate

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes adds shard tick-history endpoints to an Echo group.
func (m *Manager) RegisterRoutes(g *echo.Group) {
	g.GET("/shards/:id", m.handleShardHistory)
	g.GET("/shards/stats", m.handleStats)
}

func (m *Manager) handleShardHistory(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid shard id"})
	}
	return c.JSON(http.StatusOK, m.RecentForShard(id))
}

func (m *Manager) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, m.Stats())
}
