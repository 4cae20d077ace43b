package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/shopify-export/pkg/client"
)

// ErrMissingCursorID is returned when the since_id strategy cannot derive the
// next cursor because the last record carries no usable id.
var ErrMissingCursorID = errors.New("last record has no id to continue from")

// Strategy derives the next page from a successful response.
// A nil cursor with a nil error means the data is exhausted.
type Strategy interface {
	Name() string
	Next(current *url.URL, resp *client.Response, records []Record, pageSize int) (*Cursor, error)
}

// Strategy names accepted by ParseStrategy.
const (
	StrategySinceID = "since_id"
	StrategyLink    = "link"
)

// ParseStrategy maps a configured name to its strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategySinceID:
		return SinceIDStrategy{}, nil
	case StrategyLink, "links":
		return LinkStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown pagination strategy %q (want %s or %s)", name, StrategySinceID, StrategyLink)
	}
}

// LinkStrategy follows structured continuation links: "links.next" in the
// body (a string or an object with "href"), else the Link header with
// rel="next". Relative links resolve against the current page URL.
type LinkStrategy struct{}

// Name implements Strategy.
func (LinkStrategy) Name() string { return StrategyLink }

// Next implements Strategy.
func (LinkStrategy) Next(current *url.URL, resp *client.Response, _ []Record, _ int) (*Cursor, error) {
	raw := bodyNextLink(resp.Body)
	if raw == "" {
		var err error
		if raw, err = headerNextLink(resp.Header); err != nil {
			return nil, err
		}
	}
	if raw == "" {
		return nil, nil
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse next link %q: %w", raw, err)
	}
	return &Cursor{URL: current.ResolveReference(ref).String()}, nil
}

func bodyNextLink(body map[string]any) string {
	links, ok := body["links"].(map[string]any)
	if !ok {
		return ""
	}
	switch next := links["next"].(type) {
	case string:
		return strings.TrimSpace(next)
	case map[string]any:
		href, _ := next["href"].(string)
		return strings.TrimSpace(href)
	}
	return ""
}

// headerNextLink extracts the rel="next" target of an RFC 8288 Link header:
//
//	<https://shop/admin/api/2023-10/products.json?fields=id,title&page_info=abc>; rel="next"
//
// Targets are delimited by angle brackets, so commas inside a URI do not split
// link values. A header that mentions rel next but cannot be parsed is an
// ErrMalformedPage.
func headerNextLink(h http.Header) (string, error) {
	for _, value := range h.Values("Link") {
		links, err := parseLinkHeader(value)
		if err != nil {
			if strings.Contains(strings.ToLower(value), "next") {
				return "", fmt.Errorf("%w: link header %q: %v", ErrMalformedPage, value, err)
			}
			continue
		}
		for _, l := range links {
			if l.hasRel("next") {
				return l.target, nil
			}
		}
	}
	return "", nil
}

type linkValue struct {
	target string
	params map[string]string
}

func (l linkValue) hasRel(rel string) bool {
	for _, r := range strings.Fields(l.params["rel"]) {
		if strings.EqualFold(r, rel) {
			return true
		}
	}
	return false
}

// parseLinkHeader splits one Link field value into its link values.
func parseLinkHeader(value string) ([]linkValue, error) {
	var links []linkValue
	rest := strings.TrimSpace(value)
	for rest != "" {
		if rest[0] != '<' {
			return nil, fmt.Errorf("expected '<' at %q", rest)
		}
		closing := strings.IndexByte(rest, '>')
		if closing < 0 {
			return nil, errors.New("unterminated '<'")
		}
		l := linkValue{target: strings.TrimSpace(rest[1:closing]), params: map[string]string{}}
		rest = rest[closing+1:]

		params, tail := splitLinkParams(rest)
		for _, param := range strings.Split(params, ";") {
			key, val, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok {
				continue
			}
			l.params[strings.ToLower(strings.TrimSpace(key))] = strings.Trim(strings.TrimSpace(val), `"`)
		}
		links = append(links, l)
		rest = strings.TrimSpace(tail)
	}
	return links, nil
}

// splitLinkParams returns the parameters of the current link value and the
// text after the comma that ends it. Commas inside quoted values are kept.
func splitLinkParams(s string) (params, tail string) {
	quoted := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				return s[:i], s[i+1:]
			}
		}
	}
	return s, ""
}

// SinceIDStrategy pages by the last record's id: the next URL is the current
// one with since_id=<id> and limit=<page size>. An empty page ends the data.
type SinceIDStrategy struct{}

// Name implements Strategy.
func (SinceIDStrategy) Name() string { return StrategySinceID }

// Next implements Strategy.
func (SinceIDStrategy) Next(current *url.URL, _ *client.Response, records []Record, pageSize int) (*Cursor, error) {
	if len(records) == 0 {
		return nil, nil
	}

	id, ok := RecordID(records[len(records)-1])
	if !ok {
		return nil, ErrMissingCursorID
	}

	next := *current
	q := next.Query()
	q.Set("since_id", id)
	if pageSize > 0 {
		q.Set("limit", strconv.Itoa(pageSize))
	}
	next.RawQuery = q.Encode()
	return &Cursor{URL: next.String()}, nil
}
