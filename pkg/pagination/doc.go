// Package pagination reads every page of an Admin API listing endpoint as one
// lazy sequence of records.
//
// A session starts from a seed URL and the name of the JSON array holding the
// records ("products", "custom_collections", ...). Each page is read with its
// own retry budget through a PageGetter (normally *client.Client); the
// configured Strategy then derives the next page:
//
//   - SinceIDStrategy appends since_id=<last id> and ends on an empty page.
//   - LinkStrategy follows links.next in the body or the Link header.
//
// One strategy is used for the whole session.
//
// Example usage:
//
//	fetcher := pagination.NewFetcher(shopClient, pagination.DefaultConfig(), logger)
//	stream := fetcher.Stream(ctx, shopClient.URL("products", nil), "products")
//	for product := range stream.Records() {
//		// ...
//	}
//	if res := stream.Result(); !res.Complete() {
//		// res.Err wraps client.ErrRetryExhausted, ErrStopped, ...
//	}
//
// A session that stops early reports StatusPartial; the records already
// yielded are valid. Pages are never fetched concurrently.
package pagination
