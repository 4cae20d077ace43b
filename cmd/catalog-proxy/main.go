// Command catalog-proxy serves a store's collection products as JSON.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/shopify-export/internal/app"
	"github.com/Sternrassler/shopify-export/internal/httpserver"
	"github.com/Sternrassler/shopify-export/pkg/catalog"
	"github.com/Sternrassler/shopify-export/pkg/config"
	"github.com/Sternrassler/shopify-export/pkg/logging"
	"github.com/Sternrassler/shopify-export/pkg/pagination"
)

// requestTimeout bounds one /get_products call, retries included.
const requestTimeout = 2 * time.Minute

// productFinder is the catalog surface the proxy needs.
type productFinder interface {
	ProductsByCollectionTitle(ctx context.Context, title string) ([]pagination.Record, error)
}

// pinger reports whether a backing store is reachable.
type pinger interface {
	Ping(ctx context.Context) error
}

type server struct {
	products productFinder
	cache    pinger
	logger   zerolog.Logger
	timeout  time.Duration
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stderr))
}

// execute runs the proxy until SIGINT or SIGTERM and returns the exit code.
func execute(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("catalog-proxy", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "optional YAML config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "catalog-proxy: %v\n", err)
		return 1
	}
	logger := logging.Setup(cfg.LoggingConfig("catalog-proxy"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start")
		fmt.Fprintf(stderr, "catalog-proxy: %v\n", err)
		return 1
	}
	defer a.Close()

	s := newServer(a, logger)
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info().
		Str("store", cfg.Shop.StoreDomain).
		Bool("cache", a.Cache != nil).
		Msg("Starting catalog proxy")

	if err := httpserver.Run(ctx, srv, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Error().Err(err).Msg("Server failed")
		return 1
	}
	return 0
}

func newServer(a *app.App, logger zerolog.Logger) *server {
	s := &server{
		products: a.Catalog,
		logger:   logger,
		timeout:  requestTimeout,
	}
	if a.Cache != nil {
		s.cache = a.Cache
	}
	return s
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", httpserver.HealthHandler)
	mux.HandleFunc("GET /ready", readyHandler(s.cache))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /get_products", s.getProductsHandler)

	return httpserver.Chain(mux,
		httpserver.RequestID,
		httpserver.Logging(s.logger),
		httpserver.CORS,
	)
}

// readyHandler fails while the cache is unreachable. Without a cache the
// proxy is always ready.
func readyHandler(cache pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cache != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cache.Ping(ctx); err != nil {
				http.Error(w, "Redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

func (s *server) getProductsHandler(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("collection_name"))
	if name == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "collection_name is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	products, err := s.products.ProductsByCollectionTitle(ctx, name)
	if err != nil {
		status, message := productsError(name, err)
		s.logger.Warn().
			Err(err).
			Str("request_id", httpserver.RequestIDFrom(r.Context())).
			Str("collection", name).
			Int("status", status).
			Msg("Product lookup failed")
		httpserver.WriteError(w, status, message)
		return
	}

	httpserver.WriteJSON(w, http.StatusOK, products)
}

// productsError maps a lookup failure to a status and client message.
func productsError(name string, err error) (int, string) {
	var incomplete *catalog.IncompleteError
	switch {
	case errors.Is(err, catalog.ErrCollectionNotFound):
		return http.StatusNotFound, fmt.Sprintf("Collection '%s' not found", name)
	case errors.Is(err, catalog.ErrNoProducts):
		return http.StatusNotFound, fmt.Sprintf("No products found in collection '%s'", name)
	case errors.As(err, &incomplete):
		return http.StatusBadGateway, fmt.Sprintf("Store listing %s could not be read completely", incomplete.Resource)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Store request timed out"
	default:
		return http.StatusBadGateway, "Store request failed"
	}
}
