package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/go-authgate/oidc-cli/oidc"
	"github.com/go-authgate/oidc-cli/tui"
)

// redirectPath is the path of the redirect URI registered with the provider.
const redirectPath = "/oidc"

// redirectCompleter finishes a login from the code and state of a redirect.
// *oidc.Client satisfies it.
type redirectCompleter interface {
	HandleRedirect(ctx context.Context, code, state string) (oidc.TokenSet, error)
}

// redirectHandler serves the browser redirect. The browser always gets an
// empty 200 right away; the code exchange runs afterwards on its own
// goroutine and reports through the Displayer.
type redirectHandler struct {
	ctx     context.Context
	client  redirectCompleter
	display tui.Displayer
	logger  hclog.Logger
	onLogin func(ctx context.Context, t oidc.TokenSet)

	wg sync.WaitGroup
}

func newRedirectHandler(
	ctx context.Context,
	client redirectCompleter,
	d tui.Displayer,
	logger hclog.Logger,
) *redirectHandler {
	return &redirectHandler{ctx: ctx, client: client, display: d, logger: logger}
}

func (h *redirectHandler) routes() http.Handler {
	r := chi.NewRouter()
	r.Get(redirectPath, h.handleRedirect)
	return r
}

func (h *redirectHandler) handleRedirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")
	providerErr := q.Get("error")
	providerDesc := q.Get("error_description")

	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.complete(code, state, providerErr, providerDesc)
	}()
}

func (h *redirectHandler) complete(code, state, providerErr, providerDesc string) {
	if providerErr != "" {
		err := fmt.Errorf("provider returned %s", providerErr)
		if providerDesc != "" {
			err = fmt.Errorf("provider returned %s: %s", providerErr, providerDesc)
		}
		h.logger.Warn("login refused by provider", "error", providerErr)
		h.display.LoginFailed(err)
		return
	}
	if code == "" {
		h.logger.Warn("redirect without authorization code")
		h.display.LoginRejected(errors.New("redirect carried no authorization code"))
		return
	}

	h.display.RedirectReceived()
	t, err := h.client.HandleRedirect(h.ctx, code, state)
	switch {
	case errors.Is(err, oidc.ErrStateMismatch):
		h.display.LoginRejected(err)
		return
	case err != nil:
		h.display.LoginFailed(err)
		return
	}
	if h.onLogin != nil {
		h.onLogin(h.ctx, t)
	}
}

// wait blocks until every dispatched exchange has finished.
func (h *redirectHandler) wait() {
	h.wg.Wait()
}

// redirectListener is the loopback HTTP server receiving the redirect.
type redirectListener struct {
	srv     *http.Server
	ln      net.Listener
	handler *redirectHandler
	logger  hclog.Logger
}

// listenRedirect binds localhost:port and starts serving h. Port 0 picks a
// free port, which tests use.
func listenRedirect(ctx context.Context, port int, h *redirectHandler, logger hclog.Logger) (*redirectListener, error) {
	addr := net.JoinHostPort("localhost", strconv.Itoa(port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("redirect port %d unavailable: %w", port, err)
	}

	l := &redirectListener{
		srv: &http.Server{
			Handler:           h.routes(),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		ln:      ln,
		handler: h,
		logger:  logger,
	}
	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("redirect listener stopped", "error", err)
		}
	}()
	logger.Info("listening for redirects", "addr", ln.Addr().String())
	return l, nil
}

// Port returns the bound TCP port.
func (l *redirectListener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

// Shutdown stops accepting redirects and waits for in-flight exchanges.
func (l *redirectListener) Shutdown(ctx context.Context) error {
	err := l.srv.Shutdown(ctx)
	l.handler.wait()
	return err
}
