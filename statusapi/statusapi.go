// Package statusapi exposes a read-only operational view of the grid over
// HTTP: node health, node counts, and status-list membership. It is
// deliberately not a CLI front-end or a mutation surface — spec.md's
// Non-goals exclude digs-lock and friends — it exists only so an operator
// or a monitoring system can poll grid state without speaking the binary
// command-transport protocol. Routing and handler-registration style is
// grounded on the teacher's rest_api/restapi packages' gin-based route
// table; swagger generation (swaggo) is dropped since there is no public
// API surface here worth documenting that way (see DESIGN.md).
package statusapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/epcced/digs/node"
)

// Server wraps a gin.Engine exposing /healthz, /status and /nodes.
type Server struct {
	engine   *gin.Engine
	registry *node.Registry
}

// NewServer builds a Server backed by registry. It does not start
// listening; call Run or use Handler() with your own http.Server.
func NewServer(registry *node.Registry) *Server {
	s := &Server{engine: gin.Default(), registry: registry}
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/nodes", s.handleNodes)
	s.engine.GET("/nodes/:name", s.handleNode)
	return s
}

// Handler returns the underlying http.Handler, for embedding in a caller's
// own listener (e.g. alongside graceful-shutdown plumbing in cmd/digsd).
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run blocks serving on addr, matching the teacher's router.Run(...) call
// shape.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// nodeStatusView is the JSON shape returned for one node in /nodes and
// /nodes/:name responses.
type nodeStatusView struct {
	Name        string `json:"name"`
	Site        string `json:"site"`
	Type        string `json:"type"`
	FreeSpaceKB int64  `json:"free_space_kb"`
	Dead        bool   `json:"dead"`
	Disabled    bool   `json:"disabled"`
	Retiring    bool   `json:"retiring"`
	Preferred   bool   `json:"preferred"`
}

func toView(snap node.Snapshot, n node.Node) nodeStatusView {
	return nodeStatusView{
		Name:        n.Name,
		Site:        n.Site,
		Type:        string(n.Type),
		FreeSpaceKB: n.FreeSpaceKB,
		Dead:        snap.Is(node.StatusDead, n.Name),
		Disabled:    snap.Is(node.StatusDisabled, n.Name),
		Retiring:    snap.Is(node.StatusRetiring, n.Name),
		Preferred:   snap.Is(node.StatusPreferred, n.Name),
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.registry.Snapshot()
	live, dead := 0, 0
	for _, n := range snap.Nodes {
		if snap.Eligible(n.Name) {
			live++
		}
		if snap.Is(node.StatusDead, n.Name) {
			dead++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"total_nodes": len(snap.Nodes),
		"live_nodes":  live,
		"dead_nodes":  dead,
	})
}

func (s *Server) handleNodes(c *gin.Context) {
	snap := s.registry.Snapshot()
	views := make([]nodeStatusView, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		views = append(views, toView(snap, n))
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) handleNode(c *gin.Context) {
	name := c.Param("name")
	n, ok := s.registry.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		return
	}
	snap := s.registry.Snapshot()
	c.JSON(http.StatusOK, toView(snap, n))
}
