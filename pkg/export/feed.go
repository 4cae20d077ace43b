// Package export writes product feeds, index pages and product dumps to disk.
package export

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FeedOptions are the store-wide values of the XML feed.
type FeedOptions struct {
	StoreDomain  string
	ShipmentCost string
	DeliveryTime int
	Warranty     int
	ProductType  int
}

// DefaultFeedOptions returns the feed constants for domain.
func DefaultFeedOptions(domain string) FeedOptions {
	return FeedOptions{
		StoreDomain:  domain,
		ShipmentCost: "15.00",
		DeliveryTime: 7,
		Warranty:     1,
		ProductType:  0,
	}
}

// Feed is the document root: STORE > PRODUCTS > PRODUCT.
type Feed struct {
	XMLName  xml.Name     `xml:"STORE"`
	Products FeedProducts `xml:"PRODUCTS"`
}

// FeedProducts wraps the product list so an empty feed keeps <PRODUCTS>.
type FeedProducts struct {
	Items []FeedProduct `xml:"PRODUCT"`
}

// FeedProduct is one <PRODUCT> element.
type FeedProduct struct {
	URL           string `xml:"PRODUCT_URL"`
	Code          string `xml:"PRODUCTCODE"`
	Name          string `xml:"PRODUCT_NAME"`
	Model         string `xml:"MODEL"`
	Details       string `xml:"DETAILS"`
	CatalogNumber string `xml:"CATALOG_NUMBER"`
	Price         string `xml:"PRICE"`
	ShipmentCost  string `xml:"SHIPMENT_COST"`
	DeliveryTime  string `xml:"DELIVERY_TIME"`
	Manufacturer  string `xml:"MANUFACTURER"`
	Warranty      string `xml:"WARRANTY"`
	Image         string `xml:"IMAGE"`
	ProductType   string `xml:"PRODUCT_TYPE"`
}

// NewFeedProduct maps a product record. SKU and price come from the first
// variant, the image from the first image; missing fields stay empty.
func NewFeedProduct(product map[string]any, opts FeedOptions) FeedProduct {
	variant := first(product["variants"])
	image := first(product["images"])
	sku := text(variant["sku"])

	return FeedProduct{
		URL:           fmt.Sprintf("https://%s/products/%s", opts.StoreDomain, text(product["handle"])),
		Code:          text(product["id"]),
		Name:          text(product["title"]),
		Model:         sku,
		Details:       text(product["body_html"]),
		CatalogNumber: sku,
		Price:         text(variant["price"]),
		ShipmentCost:  opts.ShipmentCost,
		DeliveryTime:  strconv.Itoa(opts.DeliveryTime),
		Manufacturer:  text(product["vendor"]),
		Warranty:      strconv.Itoa(opts.Warranty),
		Image:         text(image["src"]),
		ProductType:   strconv.Itoa(opts.ProductType),
	}
}

// WriteFeed writes the tab-indented feed with an XML declaration.
func WriteFeed(w io.Writer, products []map[string]any, opts FeedOptions) error {
	feed := Feed{}
	for _, p := range products {
		feed.Products.Items = append(feed.Products.Items, NewFeedProduct(p, opts))
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "\t")
	if err := enc.Encode(feed); err != nil {
		return fmt.Errorf("encode feed: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// FeedFileName derives the feed file name from a collection name: spaces
// and path separators become underscores.
func FeedFileName(collectionName string) string {
	name := strings.TrimSpace(collectionName)
	name = strings.NewReplacer(" ", "_", "/", "_", `\`, "_").Replace(name)
	if name == "" || name == "." || name == ".." {
		name = "collection"
	}
	return name + ".xml"
}

// ExportFeed writes the feed of a collection into dir and returns its path.
func ExportFeed(dir, collectionName string, products []map[string]any, opts FeedOptions) (string, error) {
	path := filepath.Join(dir, FeedFileName(collectionName))
	err := writeFile(path, func(w io.Writer) error {
		return WriteFeed(w, products, opts)
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// writeFile renders into memory first so a failed render leaves no file.
func writeFile(path string, render func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func first(v any) map[string]any {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	m, _ := list[0].(map[string]any)
	return m
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
