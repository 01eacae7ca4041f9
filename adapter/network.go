package adapter

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srediag/shmcopy/internal/logger"
	"github.com/srediag/shmcopy/pkg/health"
)

// AdminServer serves /metrics, /live, /ready and /sessions for a running copy.
type AdminServer struct {
	srv *http.Server
	ln  net.Listener
	log *logger.Logger
}

// NewAdminServer builds the admin router. It does not listen until Start.
func NewAdminServer(addr string, gatherer prometheus.Gatherer, probes healthcheck.Handler, sessions *health.Registry, log *logger.Logger) *AdminServer {
	if log == nil {
		log = logger.Nop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.GET("/live", gin.WrapF(probes.LiveEndpoint))
	router.GET("/ready", gin.WrapF(probes.ReadyEndpoint))
	router.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, sessions.Snapshot())
	})

	return &AdminServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Start binds the listener and serves in the background.
func (a *AdminServer) Start() error {
	ln, err := net.Listen("tcp", a.srv.Addr)
	if err != nil {
		return err
	}
	a.ln = ln
	a.log.Infof("admin listener on %s", ln.Addr())
	go func() {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Errorf("admin listener stopped: %v", err)
		}
	}()
	return nil
}

// Addr is the bound address, valid after Start.
func (a *AdminServer) Addr() string {
	if a.ln == nil {
		return a.srv.Addr
	}
	return a.ln.Addr().String()
}

// Shutdown stops the listener, waiting for in-flight requests until ctx is done.
func (a *AdminServer) Shutdown(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}
