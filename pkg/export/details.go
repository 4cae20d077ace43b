package export

import (
	"encoding/json"
	"fmt"
	"io"
)

// ProductDetailsFileName is where the product lookup writes its result.
const ProductDetailsFileName = "product_details.txt"

// WriteProductDetails writes the product as indented JSON.
func WriteProductDetails(path string, product map[string]any) error {
	return writeFile(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(product); err != nil {
			return fmt.Errorf("encode product: %w", err)
		}
		return nil
	})
}
