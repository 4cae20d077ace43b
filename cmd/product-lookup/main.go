// Command product-lookup fetches one product by id and saves it to
// product_details.txt.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Sternrassler/shopify-export/internal/app"
	"github.com/Sternrassler/shopify-export/internal/cli"
	"github.com/Sternrassler/shopify-export/pkg/catalog"
	"github.com/Sternrassler/shopify-export/pkg/config"
	"github.com/Sternrassler/shopify-export/pkg/export"
	"github.com/Sternrassler/shopify-export/pkg/logging"
	"github.com/Sternrassler/shopify-export/pkg/pagination"
)

var errLookupFailed = errors.New("failed to retrieve product")

type productGetter interface {
	Product(ctx context.Context, productID string) (pagination.Record, error)
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// execute is the command body. It returns the exit code so deferred cleanup
// runs before the process exits.
func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("product-lookup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "optional YAML config file")
	id := fs.String("id", "", "product id (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "product-lookup: %v\n", err)
		return 1
	}
	logger := logging.Setup(cfg.LoggingConfig("product-lookup"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "product-lookup: %v\n", err)
		return 1
	}
	defer a.Close()

	path := filepath.Join(cfg.Export.OutputDir, export.ProductDetailsFileName)
	if err := run(ctx, a.Catalog, cli.NewPrompter(stdin, stdout), *id, path); err != nil {
		return 1
	}
	return 0
}

func run(ctx context.Context, products productGetter, p *cli.Prompter, id, path string) error {
	if id == "" {
		var err error
		if id, err = p.Ask("Please enter the product ID: "); err != nil {
			p.Printf("No product ID given.\n")
			return errLookupFailed
		}
	}

	product, err := products.Product(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrInvalidProductID):
			p.Printf("Invalid product ID %q.\n", id)
		case errors.Is(err, catalog.ErrProductNotFound):
			p.Printf("Product not found.\n")
		default:
			p.Printf("Error fetching product: %v\n", err)
		}
		p.Printf("Failed to retrieve product.\n")
		return fmt.Errorf("%w: %w", errLookupFailed, err)
	}

	if err := export.WriteProductDetails(path, product); err != nil {
		p.Printf("Failed to save product details: %v\n", err)
		return err
	}
	p.Printf("Product details saved to %s\n", path)
	return nil
}
