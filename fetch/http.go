package fetch

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/rodent-software/tributary/dataset"
)

const (
	etagTokenPrefix     = "etag:"
	modifiedTokenPrefix = "modified:"
)

type httpFetcher struct {
	source dataset.Source
	opts   Options
	client *http.Client
}

func (f *httpFetcher) Fetch(ctx context.Context, token string) (*Result, error) {
	client := f.client
	if client == nil {
		client = &http.Client{Timeout: f.opts.Timeout}
	}

	var resp *http.Response
	err := retry(ctx, f.opts, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.source.URL, nil)
		if err != nil {
			return err
		}
		switch {
		case strings.HasPrefix(token, etagTokenPrefix):
			req.Header.Set("If-None-Match", strings.TrimPrefix(token, etagTokenPrefix))
		case strings.HasPrefix(token, modifiedTokenPrefix):
			req.Header.Set("If-Modified-Since", strings.TrimPrefix(token, modifiedTokenPrefix))
		}
		resp, err = client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TransientError{Err: err}
		}
		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotModified:
			return nil
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			resp.Body.Close()
			return fmt.Errorf("%w: %s", ErrSourceNotFound, f.source.URL)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			resp.Body.Close()
			return &TransientError{Err: fmt.Errorf("%s returned status %s", f.source.URL, resp.Status)}
		default:
			resp.Body.Close()
			return fmt.Errorf("%s returned status %s", f.source.URL, resp.Status)
		}
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotModified {
		resp.Body.Close()
		return &Result{Token: token, UpToDate: true}, nil
	}

	newToken := ""
	if etag := resp.Header.Get("ETag"); etag != "" {
		newToken = etagTokenPrefix + etag
	} else if modified := resp.Header.Get("Last-Modified"); modified != "" {
		newToken = modifiedTokenPrefix + modified
	}

	entry := Entry{
		Name: path.Base(resp.Request.URL.Path),
		Body: newBoundedReader(ctx, resp.Body, f.opts.ChunkSize),
	}
	entries, err := prepare(ctx, []Entry{entry}, f.source.Prepare)
	if err != nil {
		return nil, err
	}
	return &Result{Entries: entries, Token: newToken}, nil
}
