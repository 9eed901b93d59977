package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/healthz"

	"github.com/yuriy-kovalchuk/dyndns/internal/controller"
	"github.com/yuriy-kovalchuk/dyndns/internal/dns"
)

// Reconciler is the part of controller.UpdateReconciler the server needs.
type Reconciler interface {
	Reconcile(ctx context.Context, req controller.UpdateRequest) controller.Result
}

// Server exposes the update endpoint together with health and metrics endpoints.
type Server struct {
	reconciler     Reconciler
	log            logr.Logger
	listen         string
	trustedProxies []string
	server         *http.Server
}

// New creates a server (not yet started). A nil trustedProxies trusts
// forwarding headers from any peer.
func New(reconciler Reconciler, log logr.Logger, listen string, trustedProxies []string) *Server {
	return &Server{reconciler: reconciler, log: log, listen: listen, trustedProxies: trustedProxies}
}

// updateParams are the query parameters of the update endpoint.
type updateParams struct {
	Token     *string `form:"token"`
	Subdomain *string `form:"subdomain"`
	A         *string `form:"a"`
	AAAA      *string `form:"aaaa"`
	TXT       *string `form:"txt"`
	Clear     *string `form:"clear"`
}

type recordResponse struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type updateResponse struct {
	Message string           `json:"message"`
	Domain  string           `json:"domain"`
	Clear   bool             `json:"clear"`
	Records []recordResponse `json:"records"`
}

// Handler builds the gin engine with routing and middleware.
func (s *Server) Handler() (http.Handler, error) {
	engine := gin.New()
	if len(s.trustedProxies) > 0 {
		if err := engine.SetTrustedProxies(s.trustedProxies); err != nil {
			return nil, fmt.Errorf("setting trusted proxies: %w", err)
		}
	}
	engine.Use(gin.Recovery(), s.accessLog())

	engine.GET("/", s.handleUpdate)

	checks := &healthz.Handler{Checks: map[string]healthz.Checker{"ping": healthz.Ping}}
	engine.GET("/healthz", gin.WrapH(http.StripPrefix("/healthz", checks)))
	engine.GET("/readyz", gin.WrapH(http.StripPrefix("/readyz", checks)))
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return engine, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.listen, err)
	}

	s.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("serving update endpoint", "address", ln.Addr().String())
		errc <- s.server.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func (s *Server) handleUpdate(c *gin.Context) {
	var params updateParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, updateResponse{
			Message: "Bad Request: invalid query parameters",
			Records: []recordResponse{},
		})
		return
	}

	req := controller.UpdateRequest{
		Token:     params.Token,
		Subdomain: nonEmpty(params.Subdomain),
		A:         nonEmpty(params.A),
		AAAA:      nonEmpty(params.AAAA),
		TXT:       nonEmpty(params.TXT),
	}
	if clear := nonEmpty(params.Clear); clear != nil {
		v, err := strconv.ParseBool(*clear)
		if err != nil {
			req.ParamErr = fmt.Errorf("clear: %q is not a boolean", *clear)
		}
		req.Clear = v
	}
	if addr, err := netip.ParseAddr(c.ClientIP()); err == nil {
		req.ObservedAddr = addr.Unmap()
	}

	res := s.reconciler.Reconcile(c.Request.Context(), req)

	status, message := http.StatusOK, "OK"
	switch res.Status {
	case controller.StatusUnauthorized:
		status, message = http.StatusUnauthorized, "Unauthorized: Invalid token"
	case controller.StatusInvalidRequest:
		status, message = http.StatusBadRequest, "Bad Request"
		if res.Err != nil {
			message += ": " + res.Err.Error()
		}
	case controller.StatusProviderError:
		status, message = http.StatusInternalServerError, "Internal Server Error"
	}

	c.JSON(status, updateResponse{
		Message: message,
		Domain:  res.Domain,
		Clear:   res.Clear,
		Records: toRecordResponses(res.Records),
	})
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.V(1).Info("handled request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client", c.ClientIP(),
		)
	}
}

func toRecordResponses(records []dns.Record) []recordResponse {
	out := make([]recordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, recordResponse{Type: string(r.Type), Content: r.Content})
	}
	return out
}

// nonEmpty treats "?param=" the same as an absent parameter.
func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
