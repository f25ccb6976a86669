package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// Page is the envelope the cloud wraps around paged collection results.
// remainingSize comes back as a JSON string, hence json.Number.
type Page struct {
	Items         []json.RawMessage `json:"items"`
	RemainingSize json.Number       `json:"remainingSize"`
	ResultSize    json.Number       `json:"resultSize"`
}

// ForEachPage walks a paged web services collection, invoking fn for every
// raw item across all pages. condition, when non-empty, is passed through
// as the ?condition= query parameter. Iteration stops at the first error
// returned by fn or the transport.
func ForEachPage(ctx context.Context, conn Connection, path, condition string, pageSize int, fn func(item json.RawMessage) error) error {
	if pageSize <= 0 {
		pageSize = 1000
	}
	offset := 0
	for {
		req := fmt.Sprintf("%s?embed=true&start=%d&size=%d", path, offset, pageSize)
		if condition != "" {
			req += "&condition=" + url.QueryEscape(condition)
		}

		var page Page
		if err := conn.GetJSON(ctx, req, &page); err != nil {
			return err
		}
		for _, item := range page.Items {
			if err := fn(item); err != nil {
				return err
			}
		}

		remaining, err := page.RemainingSize.Int64()
		if err != nil || remaining <= 0 {
			return nil
		}
		offset += pageSize
	}
}
