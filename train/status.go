// status.go - Optionaler HTTP-Status-Endpunkt fuer laufende Trainings
//
// Ein read-only Endpunkt (GET /v1/status) liefert den zuletzt
// veroeffentlichten Trainingsfortschritt als JSON, damit laufende Jobs ohne
// Terminal-Zugriff beobachtet werden koennen.
package train

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// Status is one published progress snapshot.
type Status struct {
	RunID         string  `json:"run_id"`
	Epoch         int     `json:"epoch"`
	Step          int     `json:"step"`
	TextLoss      float64 `json:"avg_text_loss"`
	DiffusionLoss float64 `json:"avg_diffusion_loss"`
	LR            float64 `json:"learning_rate"`
}

// StatusServer serves the most recent Status over HTTP.
type StatusServer struct {
	mu   sync.Mutex
	cur  Status
	addr net.Addr
	srv  *http.Server
}

// NewStatusServer starts a status server on addr.
func NewStatusServer(addr string) (*StatusServer, error) {
	s := &StatusServer{}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/v1/status", func(c *gin.Context) {
		s.mu.Lock()
		cur := s.cur
		s.mu.Unlock()
		c.JSON(http.StatusOK, cur)
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s.addr = ln.Addr()
	s.srv = &http.Server{Handler: r}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Warn("status server stopped", "error", err)
		}
	}()
	slog.Info("status server listening", "addr", ln.Addr().String())

	return s, nil
}

// Addr returns the address the server is listening on.
func (s *StatusServer) Addr() string {
	return s.addr.String()
}

// Update publishes a new snapshot.
func (s *StatusServer) Update(st Status) {
	s.mu.Lock()
	s.cur = st
	s.mu.Unlock()
}

// Shutdown stops the server.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
