package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rodent-software/tributary/dataset"
)

const nameTokenPrefix = "name:"

type globFetcher struct {
	source dataset.Source
	opts   Options
}

// Fetch returns the files matching the glob in name order. The continuation
// token is the last name already ingested; files at or before it are
// skipped, so dropping new files into the directory is all a source needs
// to do to publish increments.
func (f *globFetcher) Fetch(ctx context.Context, token string) (*Result, error) {
	matches, err := filepath.Glob(f.source.Path)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no files match %s", ErrSourceNotFound, f.source.Path)
	}
	sort.Strings(matches)

	watermark := strings.TrimPrefix(token, nameTokenPrefix)
	var entries []Entry
	last := watermark
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			continue
		}
		name := filepath.Base(match)
		if watermark != "" && name <= watermark {
			continue
		}
		file, err := os.Open(match)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Name: name, Body: file})
		if name > last {
			last = name
		}
	}
	if len(entries) == 0 {
		return &Result{Token: token, UpToDate: true}, nil
	}

	entries, err = prepare(ctx, entries, f.source.Prepare)
	if err != nil {
		return nil, err
	}
	return &Result{Entries: entries, Token: nameTokenPrefix + last}, nil
}
