// Package catalog looks up collections and products of one store.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/shopify-export/pkg/cache"
	"github.com/Sternrassler/shopify-export/pkg/client"
	"github.com/Sternrassler/shopify-export/pkg/pagination"
	"github.com/rs/zerolog"
)

var (
	// ErrCollectionNotFound is returned when no collection has the title.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrNoProducts is returned when a collection holds no products.
	ErrNoProducts = errors.New("no products found in collection")

	// ErrProductNotFound is returned when the product does not exist.
	ErrProductNotFound = errors.New("product not found")

	// ErrInvalidProductID is returned for ids that are not positive integers.
	ErrInvalidProductID = errors.New("product id must be a positive integer")
)

// CollectionTypes are read in this order and merged.
var CollectionTypes = []string{"custom_collections", "smart_collections"}

// IncompleteError reports a listing that ended before its last page.
// The records read so far are returned alongside it.
type IncompleteError struct {
	Resource string
	Result   pagination.Result
}

// Error implements the error interface.
func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s read incompletely (%d records from %d pages): %v",
		e.Resource, e.Result.Records, e.Result.Pages, e.Result.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *IncompleteError) Unwrap() error {
	return e.Result.Err
}

// Shop is the Admin API surface the catalog needs. *client.Client implements it.
type Shop interface {
	pagination.PageGetter
	URL(resource string, query url.Values) string
	StoreDomain() string
	RetryConfig() client.RetryConfig
}

// Cache keeps decoded listings between calls. *cache.Manager implements it.
type Cache interface {
	Load(ctx context.Context, key cache.Key, dst any) error
	Store(ctx context.Context, key cache.Key, v any, ttl time.Duration) error
}

// Catalog reads collections and products.
type Catalog struct {
	shop    Shop
	fetcher *pagination.Fetcher
	logger  zerolog.Logger

	cache    Cache
	cacheTTL time.Duration
}

// New creates a catalog reading through fetcher.
func New(shop Shop, fetcher *pagination.Fetcher, logger zerolog.Logger) *Catalog {
	return &Catalog{
		shop:    shop,
		fetcher: fetcher,
		logger:  logger.With().Str("component", "catalog").Logger(),
	}
}

// SetCache enables caching of the merged collection list.
func (c *Catalog) SetCache(store Cache, ttl time.Duration) {
	c.cache = store
	c.cacheTTL = ttl
}

// StoreDomain returns the shop host.
func (c *Catalog) StoreDomain() string {
	return c.shop.StoreDomain()
}

func (c *Catalog) collect(ctx context.Context, resource, key string) ([]pagination.Record, error) {
	records, res := c.fetcher.Collect(ctx, c.shop.URL(resource, nil), key)
	if !res.Complete() {
		return records, &IncompleteError{Resource: resource, Result: res}
	}
	return records, nil
}

// Collections returns custom collections followed by smart collections.
func (c *Catalog) Collections(ctx context.Context) ([]pagination.Record, error) {
	c.logger.Info().Msg("Fetching all collections")

	var all []pagination.Record
	for _, collectionType := range CollectionTypes {
		records, err := c.collect(ctx, collectionType, collectionType)
		all = append(all, records...)
		if err != nil {
			return all, err
		}
	}

	c.logger.Info().Int("collections", len(all)).Msg("Collections fetched")
	return all, nil
}

// cachedCollections serves the collection list from the cache when possible.
// Only complete lists are cached.
func (c *Catalog) cachedCollections(ctx context.Context) ([]pagination.Record, error) {
	if c.cache == nil {
		return c.Collections(ctx)
	}

	key := cache.Key{Shop: c.shop.StoreDomain(), Resource: "collections"}

	var cached []pagination.Record
	err := c.cache.Load(ctx, key, &cached)
	if err == nil {
		c.logger.Debug().Int("collections", len(cached)).Msg("Collections served from cache")
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn().Err(err).Msg("Collection cache read failed")
	}

	collections, err := c.Collections(ctx)
	if err != nil {
		return collections, err
	}
	if err := c.cache.Store(ctx, key, collections, c.cacheTTL); err != nil {
		c.logger.Warn().Err(err).Msg("Collection cache write failed")
	}
	return collections, nil
}

// FindCollection returns the collection whose title matches, ignoring case.
func (c *Catalog) FindCollection(ctx context.Context, title string) (pagination.Record, error) {
	want := strings.TrimSpace(title)

	collections, listErr := c.cachedCollections(ctx)
	for _, collection := range collections {
		name, _ := collection["title"].(string)
		if strings.EqualFold(name, want) {
			id, _ := pagination.RecordID(collection)
			c.logger.Info().
				Str("collection_id", id).
				Str("title", want).
				Msg("Collection found")
			return collection, nil
		}
	}

	if listErr != nil {
		return nil, fmt.Errorf("find collection %q: %w", want, listErr)
	}
	return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, want)
}

// CollectionProducts returns every product of a collection in server order.
func (c *Catalog) CollectionProducts(ctx context.Context, collectionID string) ([]pagination.Record, error) {
	c.logger.Info().Str("collection_id", collectionID).Msg("Fetching products for collection")

	resource := "collections/" + url.PathEscape(collectionID) + "/products"
	products, err := c.collect(ctx, resource, "products")

	c.logger.Info().
		Str("collection_id", collectionID).
		Int("products", len(products)).
		Msg("Products fetched")
	return products, err
}

// ProductsByCollectionTitle resolves a collection by title and returns its
// products. A collection without products yields ErrNoProducts.
func (c *Catalog) ProductsByCollectionTitle(ctx context.Context, title string) ([]pagination.Record, error) {
	collection, err := c.FindCollection(ctx, title)
	if err != nil {
		return nil, err
	}

	id, ok := pagination.RecordID(collection)
	if !ok {
		return nil, fmt.Errorf("collection %q has no id", title)
	}

	products, err := c.CollectionProducts(ctx, id)
	if err != nil {
		return products, err
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("%w %q", ErrNoProducts, strings.TrimSpace(title))
	}
	return products, nil
}

// Product returns one product by id. A 404 fails at once.
func (c *Catalog) Product(ctx context.Context, productID string) (pagination.Record, error) {
	productID = strings.TrimSpace(productID)
	if n, err := strconv.ParseUint(productID, 10, 64); err != nil || n == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProductID, productID)
	}

	retry := c.shop.RetryConfig()
	retry.NoRetryStatuses = append(append([]int(nil), retry.NoRetryStatuses...), http.StatusNotFound)

	resp, err := c.shop.GetPage(ctx, c.shop.URL("products/"+productID, nil), retry)
	if err != nil {
		if client.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return nil, fmt.Errorf("fetch product %s: %w", productID, err)
	}

	product, ok := resp.Body["product"].(map[string]any)
	if !ok || len(product) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return product, nil
}
