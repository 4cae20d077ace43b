// Command greeter serves POST /greet.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/shopify-export/internal/httpserver"
	"github.com/Sternrassler/shopify-export/pkg/config"
	"github.com/Sternrassler/shopify-export/pkg/logging"
)

// maxGreetBody bounds the request body.
const maxGreetBody = 1 << 20

type greetRequest struct {
	Name string `json:"name"`
}

type greetResponse struct {
	Message string `json:"message"`
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stderr))
}

// execute serves until SIGINT or SIGTERM and returns the exit code.
func execute(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("greeter", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "optional YAML config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "greeter: %v\n", err)
		return 1
	}
	logger := logging.Setup(cfg.LoggingConfig("greeter"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           newHandler(logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := httpserver.Run(ctx, srv, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Error().Err(err).Msg("Server failed")
		return 1
	}
	return 0
}

func newHandler(logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", httpserver.HealthHandler)
	mux.HandleFunc("POST /greet", greetHandler)

	return httpserver.Chain(mux,
		httpserver.RequestID,
		httpserver.Logging(logger),
		httpserver.CORS,
	)
}

func greetHandler(w http.ResponseWriter, r *http.Request) {
	var req greetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGreetBody)).Decode(&req); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "Name not provided")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "Name not provided")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, greetResponse{Message: fmt.Sprintf("Hello, %s!", req.Name)})
}
