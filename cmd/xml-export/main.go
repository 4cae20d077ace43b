// Command xml-export writes one XML product feed per collection named on the
// console, then optionally an index page linking the feeds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/shopify-export/internal/app"
	"github.com/Sternrassler/shopify-export/internal/cli"
	"github.com/Sternrassler/shopify-export/pkg/catalog"
	"github.com/Sternrassler/shopify-export/pkg/config"
	"github.com/Sternrassler/shopify-export/pkg/export"
	"github.com/Sternrassler/shopify-export/pkg/logging"
	"github.com/Sternrassler/shopify-export/pkg/pagination"
)

type collectionReader interface {
	ProductsByCollectionTitle(ctx context.Context, title string) ([]pagination.Record, error)
}

type exporter struct {
	products collectionReader
	prompt   *cli.Prompter
	dir      string
	feed     export.FeedOptions
	logger   zerolog.Logger
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// execute is the command body. It returns the exit code so the Redis
// connection and signal handler are released before the process exits.
func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("xml-export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "optional YAML config file")
	outDir := fs.String("out", "", "output directory (overrides OUTPUT_DIR)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "xml-export: %v\n", err)
		return 1
	}
	if *outDir != "" {
		cfg.Export.OutputDir = *outDir
	}
	logger := logging.Setup(cfg.LoggingConfig("xml-export"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "xml-export: %v\n", err)
		return 1
	}
	defer a.Close()

	if err := os.MkdirAll(cfg.Export.OutputDir, 0o755); err != nil {
		fmt.Fprintf(stderr, "xml-export: %v\n", err)
		return 1
	}

	e := &exporter{
		products: a.Catalog,
		prompt:   cli.NewPrompter(stdin, stdout),
		dir:      cfg.Export.OutputDir,
		feed:     cfg.FeedOptions(),
		logger:   logger,
	}
	if err := e.run(ctx); err != nil {
		fmt.Fprintf(stderr, "xml-export: %v\n", err)
		return 1
	}
	return 0
}

func (e *exporter) run(ctx context.Context) error {
	e.prompt.Printf("Starting the Shopify XML export.\n")

	for {
		name, err := e.prompt.NextValue(fmt.Sprintf("Enter collection name (or type '%s' to finish): ", cli.DoneWord))
		if errors.Is(err, cli.ErrDone) {
			break
		}
		if err != nil {
			return err
		}
		if err := e.exportCollection(ctx, name); err != nil {
			return err
		}
	}

	create, err := e.prompt.Confirm("Do you want to create index.html? (yes/no): ")
	if err != nil {
		return err
	}
	if create {
		path, err := export.WriteSimpleIndex(e.dir)
		switch {
		case errors.Is(err, export.ErrNoXMLFiles):
			e.prompt.Printf("No XML files found in %s.\n", e.dir)
		case err != nil:
			return err
		default:
			e.prompt.Printf("Index file '%s' created successfully.\n", path)
		}
	}

	e.prompt.Printf("Shopify XML export finished.\n")
	return nil
}

// exportCollection reports lookup failures on the console and keeps going.
// Only cancellation and write failures end the session.
func (e *exporter) exportCollection(ctx context.Context, name string) error {
	products, err := e.products.ProductsByCollectionTitle(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var incomplete *catalog.IncompleteError
		switch {
		case errors.Is(err, catalog.ErrCollectionNotFound):
			e.prompt.Printf("Collection '%s' not found.\n", name)
		case errors.Is(err, catalog.ErrNoProducts):
			e.prompt.Printf("No products found in collection '%s'.\n", name)
		case errors.As(err, &incomplete):
			e.prompt.Printf("Collection '%s' could not be read completely (%d products from %d pages); nothing exported.\n",
				name, incomplete.Result.Records, incomplete.Result.Pages)
		default:
			e.prompt.Printf("Failed to read collection '%s': %v\n", name, err)
		}
		e.logger.Warn().Err(err).Str("collection", name).Msg("Collection skipped")
		return nil
	}

	e.prompt.Printf("Exporting %d products to XML for collection '%s'.\n", len(products), name)
	path, err := export.ExportFeed(e.dir, name, products, e.feed)
	if err != nil {
		return err
	}
	e.prompt.Printf("Product data saved to '%s'.\n", path)
	return nil
}
