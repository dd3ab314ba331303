package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	tea "charm.land/bubbletea/v2"
	"github.com/lumen-blog/blogctl/blog"
	"github.com/lumen-blog/blogctl/metrics"
	"github.com/lumen-blog/blogctl/pipeline"
	"github.com/lumen-blog/blogctl/session"
	"github.com/lumen-blog/blogctl/tokenstore"
	"github.com/lumen-blog/blogctl/tui"
)

var (
	serverURL         string
	tokenStoreKind    string
	tokenFile         string
	redisAddr         string
	redisDB           int
	redisPass         string
	logLevel          string
	httpRetries       int
	metricsFile       string
	flagServerURL     *string
	flagTokenStore    *string
	flagTokenFile     *string
	flagRedisAddr     *string
	flagLogLevel      *string
	flagHTTPRetries   *string
	flagMetricsFile   *string
	configInitialized bool
	retryClient       *retry.Client
)

// Timeout configuration for different operations
const (
	loginTimeout   = 10 * time.Second
	commandTimeout = 30 * time.Second
	redisTimeout   = 3 * time.Second
)

const (
	storeFile   = "file"
	storeRedis  = "redis"
	storeMemory = "memory"
)

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flagServerURL = flag.String(
		"server-url",
		"",
		"Blog API base URL (default: http://localhost:5000/api or SERVER_URL env)",
	)
	flagTokenStore = flag.String(
		"token-store",
		"",
		"Where to keep tokens: file, redis or memory (default: file or TOKEN_STORE env)",
	)
	flagTokenFile = flag.String(
		"token-file",
		"",
		"Token storage file (default: .blogctl-tokens.json or TOKEN_FILE env)",
	)
	flagRedisAddr = flag.String(
		"redis-addr",
		"",
		"Redis address for -token-store=redis (default: localhost:6379 or REDIS_ADDR env)",
	)
	flagLogLevel = flag.String("log-level", "", "Log level (default: error or LOG_LEVEL env)")
	flagHTTPRetries = flag.String(
		"http-retries",
		"",
		"Transport retries for failed connections (default: 0 or HTTP_RETRIES env)",
	)
	flagMetricsFile = flag.String(
		"metrics-file",
		"",
		"Write Prometheus metrics to this file on exit (or METRICS_FILE env)",
	)
}

// initConfig parses flags and initializes configuration
// Separated from init() to avoid conflicts with test flag parsing
func initConfig() {
	if configInitialized {
		return
	}
	configInitialized = true

	flag.Usage = usage
	flag.Parse()

	// Priority: flag > env > default
	serverURL = getConfig(*flagServerURL, "SERVER_URL", "http://localhost:5000/api")
	tokenStoreKind = getConfig(*flagTokenStore, "TOKEN_STORE", storeFile)
	tokenFile = getConfig(*flagTokenFile, "TOKEN_FILE", ".blogctl-tokens.json")
	redisAddr = getConfig(*flagRedisAddr, "REDIS_ADDR", "localhost:6379")
	redisPass = getEnv("REDIS_PASS", "")
	logLevel = getConfig(*flagLogLevel, "LOG_LEVEL", "error")
	metricsFile = getConfig(*flagMetricsFile, "METRICS_FILE", "")

	var err error
	if redisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0")); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid REDIS_DB: %v\n", err)
		os.Exit(1)
	}
	httpRetries, err = strconv.Atoi(getConfig(*flagHTTPRetries, "HTTP_RETRIES", "0"))
	if err != nil || httpRetries < 0 {
		fmt.Fprintf(os.Stderr, "Error: HTTP_RETRIES must be a non-negative integer\n")
		os.Exit(1)
	}

	// Validate SERVER_URL format
	if err := validateServerURL(serverURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid SERVER_URL: %v\n", err)
		os.Exit(1)
	}

	// Warn if using HTTP instead of HTTPS
	if strings.HasPrefix(strings.ToLower(serverURL), "http://") &&
		!isLoopback(serverURL) {
		fmt.Fprintln(
			os.Stderr,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!",
		)
		fmt.Fprintln(os.Stderr)
	}

	if err := validateStoreKind(tokenStoreKind); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	retryClient, err = newRetryClient(httpRetries)
	if err != nil {
		panic(fmt.Sprintf("failed to create retry client: %v", err))
	}
}

// newRetryClient builds the transport under the request pipeline. retries
// only covers connection-level failures; 401 handling lives in the pipeline.
func newRetryClient(retries int) (*retry.Client, error) {
	baseHTTPClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	return retry.NewBackgroundClient(
		retry.WithHTTPClient(baseHTTPClient),
		retry.WithMaxRetries(retries),
	)
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

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

func isLoopback(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func validateStoreKind(kind string) error {
	switch kind {
	case storeFile, storeRedis, storeMemory:
		return nil
	}
	return fmt.Errorf("unknown token store %q (want file, redis or memory)", kind)
}

// newLogger builds the diagnostic logger. It writes JSON to stderr and is
// separate from the progress output of the Displayer.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Sampling = nil
	return cfg.Build()
}

// openBackend returns the durable token backend selected by kind. The
// returned close func releases any connection it holds.
func openBackend(ctx context.Context, kind string) (tokenstore.Backend, func() error, error) {
	noop := func() error { return nil }

	switch kind {
	case storeMemory:
		return tokenstore.NewMemoryBackend(), noop, nil

	case storeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: redisPass,
			DB:       redisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", redisAddr, err)
		}
		return tokenstore.NewRedisBackend(client, serverURL), client.Close, nil

	default:
		return tokenstore.NewFileBackend(tokenFile, serverURL), noop, nil
	}
}

// app holds everything a subcommand needs.
type app struct {
	d       tui.Displayer
	out     io.Writer
	logger  *zap.Logger
	store   *tokenstore.Store
	session *session.Controller
	blog    *blog.Client
	source  string
	close   func() error
}

func newApp(ctx context.Context, d tui.Displayer, out io.Writer, logger *zap.Logger, m *metrics.Collector) (*app, error) {
	backend, closeBackend, err := openBackend(ctx, tokenStoreKind)
	if err != nil {
		return nil, err
	}

	store := tokenstore.Open(ctx, backend, logger.Named("tokenstore"))
	store.OnPersistError = d.TokenSaveFailed

	ctrl := session.New(serverURL, retryClient, store,
		session.WithLogger(logger.Named("session")),
		session.WithMetrics(m),
		session.WithPipelineOptions(pipeline.WithObserver(d)),
	)
	ctrl.OnLogout(d.LoggedOut)

	source := tokenStoreKind
	if fb, ok := backend.(*tokenstore.FileBackend); ok {
		source = fb.Path()
	}

	return &app{
		d:       d,
		out:     out,
		logger:  logger,
		store:   store,
		session: ctrl,
		blog:    blog.NewClient(ctrl.Pipeline(), logger.Named("blog")),
		source:  source,
		close:   closeBackend,
	}, nil
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
	initConfig()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	if isTTY() {
		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		d := tui.NewProgramDisplayer(p)
		d.Banner()
		runErr := run(d, os.Stdout, args)
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
		if runErr != nil {
			os.Exit(1)
		}
	} else {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner()
		if err := run(d, os.Stdout, args); err != nil {
			os.Exit(1)
		}
	}
}

func run(d tui.Displayer, out io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(logLevel)
	if err != nil {
		d.Fatal(err)
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	a, err := newApp(ctx, d, out, logger, m)
	if err != nil {
		d.Fatal(err)
		return err
	}
	defer func() { _ = a.close() }()

	err = a.dispatch(ctx, args)

	if metricsFile != "" {
		if werr := metrics.WriteTextfile(metricsFile, reg); werr != nil {
			logger.Warn("metrics.write_failed", zap.String("path", metricsFile), zap.Error(werr))
		}
	}

	if err != nil {
		d.Fatal(err)
		return err
	}
	return nil
}

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintln(w, "Usage: blogctl [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  login [-u user] [-p password]      sign in (or BLOG_USERNAME / BLOG_PASSWORD)")
	fmt.Fprintln(w, "  logout                             forget stored tokens")
	fmt.Fprintln(w, "  refresh                            obtain a new access token")
	fmt.Fprintln(w, "  status                             show session state and token claims")
	fmt.Fprintln(w, "  articles list|show|save|delete     manage articles")
	fmt.Fprintln(w, "  friends list|add|update|delete     manage friend links")
	fmt.Fprintln(w, "  artworks list|show|add|update|delete")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	flag.PrintDefaults()
}
