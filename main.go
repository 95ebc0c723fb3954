package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"

	"github.com/go-authgate/oidc-cli/oidc"
	"github.com/go-authgate/oidc-cli/tui"
)

const (
	defaultRedirectPort = 32323
	shutdownTimeout     = 5 * time.Second
)

var (
	flagAuthURL      *string
	flagTokenURL     *string
	flagClientID     *string
	flagClientSecret *string
	flagRedirectPort *string
	flagUserInfoURL  *string
	flagGrant        *string
	flagHTTPTimeout  *string
	flagLogLevel     *string
	flagLogFile      *string

	// openBrowser is swapped out in tests.
	openBrowser = openURL
)

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flagAuthURL = flag.String("auth-url", "", "Authorization endpoint (or OIDC_AUTH_URL env)")
	flagTokenURL = flag.String("token-url", "", "Token endpoint (or OIDC_TOKEN_URL env)")
	flagClientID = flag.String("client-id", "", "OAuth client ID (required, or OIDC_CLIENT_ID env)")
	flagClientSecret = flag.String(
		"client-secret",
		"",
		"OAuth client secret for confidential clients (or OIDC_CLIENT_SECRET env)",
	)
	flagRedirectPort = flag.String(
		"redirect-port",
		"",
		"Loopback port receiving the login redirect (default: 32323 or OIDC_REDIRECT_PORT env)",
	)
	flagUserInfoURL = flag.String("userinfo-url", "", "UserInfo endpoint, optional (or OIDC_USERINFO_URL env)")
	flagGrant = flag.String(
		"grant",
		"",
		"authorization_code or client_credentials (default: authorization_code or OIDC_GRANT env)",
	)
	flagHTTPTimeout = flag.String("http-timeout", "", "Token request timeout (default: 10s or OIDC_HTTP_TIMEOUT env)")
	flagLogLevel = flag.String("log-level", "", "trace, debug, info, warn or error (default: info or LOG_LEVEL env)")
	flagLogFile = flag.String("log-file", "", "Write logs to this file (or LOG_FILE env)")
}

// appConfig is the resolved command line configuration.
type appConfig struct {
	client       oidc.ClientConfig
	redirectPort int
	userInfoURL  string
	grant        oidc.GrantType
	httpTimeout  time.Duration
	logLevel     string
	logFile      string
}

// loadConfig resolves every setting with priority flag > env > default and
// validates the result.
func loadConfig() (appConfig, error) {
	cfg := appConfig{
		userInfoURL: getConfig(*flagUserInfoURL, "OIDC_USERINFO_URL", ""),
		logLevel:    getConfig(*flagLogLevel, "LOG_LEVEL", "info"),
		logFile:     getConfig(*flagLogFile, "LOG_FILE", ""),
	}

	port, err := strconv.Atoi(
		getConfig(*flagRedirectPort, "OIDC_REDIRECT_PORT", strconv.Itoa(defaultRedirectPort)),
	)
	if err != nil || port < 1 || port > 65535 {
		return appConfig{}, errors.New("redirect port must be a number between 1 and 65535")
	}
	cfg.redirectPort = port

	grant, err := oidc.ParseGrantType(getConfig(*flagGrant, "OIDC_GRANT", "authorization_code"))
	if err != nil {
		return appConfig{}, err
	}
	if grant != oidc.GrantAuthorizationCode && grant != oidc.GrantClientCredentials {
		return appConfig{}, fmt.Errorf("%w: %s cannot start a session", oidc.ErrUnsupportedGrant, grant)
	}
	cfg.grant = grant

	timeout, err := time.ParseDuration(
		getConfig(*flagHTTPTimeout, "OIDC_HTTP_TIMEOUT", oidc.DefaultHTTPTimeout.String()),
	)
	if err != nil || timeout <= 0 {
		return appConfig{}, errors.New("http timeout must be a positive duration such as 10s")
	}
	cfg.httpTimeout = timeout

	cfg.client, err = oidc.NewClientConfig(oidc.ClientConfig{
		AuthURL:      getConfig(*flagAuthURL, "OIDC_AUTH_URL", ""),
		TokenURL:     getConfig(*flagTokenURL, "OIDC_TOKEN_URL", ""),
		ClientID:     getConfig(*flagClientID, "OIDC_CLIENT_ID", ""),
		ClientSecret: getConfig(*flagClientSecret, "OIDC_CLIENT_SECRET", ""),
		RedirectURI:  redirectURI(port),
	})
	if err != nil {
		return appConfig{}, err
	}

	if cfg.userInfoURL != "" {
		if err := oidc.ValidateURL(cfg.userInfoURL); err != nil {
			return appConfig{}, fmt.Errorf("invalid OIDC_USERINFO_URL: %w", err)
		}
	}
	return cfg, nil
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func redirectURI(port int) string {
	return "http://localhost:" + strconv.Itoa(port) + redirectPath
}

// insecureEndpoints lists the configured provider endpoints that use plain http.
func insecureEndpoints(cfg appConfig) []string {
	var out []string
	for _, u := range []string{cfg.client.AuthURL, cfg.client.TokenURL, cfg.userInfoURL} {
		if strings.HasPrefix(strings.ToLower(u), "http://") {
			out = append(out, u)
		}
	}
	return out
}

// newLogger builds the process logger. In TUI mode logs would corrupt the
// screen, so they go to LOG_FILE or nowhere.
func newLogger(level, file string, tty bool) (hclog.Logger, func() error, error) {
	opts := &hclog.LoggerOptions{
		Name:   "oidc-cli",
		Level:  hclog.LevelFromString(level),
		Output: os.Stderr,
	}
	closeFn := func() error { return nil }

	switch {
	case file != "":
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		opts.Output = f
		closeFn = f.Close
	case tty:
		opts.Output = io.Discard
	}
	return hclog.New(opts), closeFn, nil
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Provide settings via command line flags, environment variables or a .env file.")
		os.Exit(1)
	}

	// Warn if using HTTP instead of HTTPS
	if insecure := insecureEndpoints(cfg); len(insecure) > 0 {
		fmt.Fprintln(
			os.Stderr,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!",
		)
		for _, u := range insecure {
			fmt.Fprintf(os.Stderr, "⚠️    %s\n", u)
		}
		fmt.Fprintln(os.Stderr)
	}

	tty := isTTY()
	logger, closeLog, err := newLogger(cfg.logLevel, cfg.logFile, tty)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	if tty {
		// The model only requests logins; run performs them so the UI loop
		// never blocks on the network.
		loginRequests := make(chan struct{}, 1)
		requestLogin := func() {
			select {
			case loginRequests <- struct{}{}:
			default:
			}
		}
		if cfg.grant == oidc.GrantClientCredentials {
			requestLogin = nil
		}
		m := tui.NewModel(requestLogin)
		// Run TUI program on stderr so stdout pipes are not corrupted
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				logger.Error("tui stopped", "error", err)
			}
			// Quitting the UI ends the session.
			stop()
		}()

		runErr = run(ctx, cfg, tui.NewProgramDisplayer(p), logger, loginRequests)
		p.Quit()
		wg.Wait()
	} else {
		runErr = run(ctx, cfg, tui.NewPlainDisplayer(os.Stderr), logger, nil)
	}

	if runErr != nil {
		_ = closeLog()
		os.Exit(1)
	}
}

// run holds one session until ctx is cancelled. With a nil loginRequests
// channel a login is started right away; otherwise one starts per request.
func run(
	ctx context.Context,
	cfg appConfig,
	d tui.Displayer,
	logger hclog.Logger,
	loginRequests <-chan struct{},
) error {
	d.Banner()

	client, err := oidc.NewClient(cfg.client,
		oidc.WithLogger(logger.Named("oidc")),
		oidc.WithObserver(d),
		oidc.WithRequestTimeout(cfg.httpTimeout),
	)
	if err != nil {
		d.Fatal(err)
		return err
	}
	defer client.Close()

	afterLogin, err := userInfoReporter(cfg, client, d)
	if err != nil {
		d.Fatal(err)
		return err
	}

	if cfg.grant == oidc.GrantClientCredentials {
		t, err := client.LoginClientCredentials(ctx)
		if err != nil {
			d.Fatal(err)
			return err
		}
		afterLogin(ctx, t)
		<-ctx.Done()
		return nil
	}

	h := newRedirectHandler(ctx, client, d, logger.Named("listener"))
	h.onLogin = afterLogin
	l, err := listenRedirect(ctx, cfg.redirectPort, h, logger.Named("listener"))
	if err != nil {
		d.Fatal(err)
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := l.Shutdown(shutdownCtx); err != nil {
			logger.Warn("redirect listener shutdown", "error", err)
		}
	}()
	d.ListenerReady(client.Config().RedirectURI)

	startLogin := func() {
		authURL := client.InitiateLogin()
		d.LoginStarted(authURL)
		if err := openBrowser(authURL); err != nil {
			d.BrowserFailed(err)
		}
	}

	if loginRequests == nil {
		startLogin()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-loginRequests:
			startLogin()
		}
	}
}

// userInfoReporter returns the hook run after every login. Without a
// configured UserInfo endpoint it does nothing.
func userInfoReporter(
	cfg appConfig,
	client *oidc.Client,
	d tui.Displayer,
) (func(context.Context, oidc.TokenSet), error) {
	if cfg.userInfoURL == "" {
		return func(context.Context, oidc.TokenSet) {}, nil
	}
	fetcher, err := oidc.NewUserInfoFetcher(cfg.userInfoURL, nil, cfg.httpTimeout)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, _ oidc.TokenSet) {
		claims, err := fetcher.Fetch(ctx, client.Session())
		if err != nil {
			d.UserInfoFailed(err)
			return
		}
		d.UserInfo(claims)
	}, nil
}
