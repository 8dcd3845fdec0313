package fetch

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/rodent-software/tributary/dataset"
)

// prepare applies the source's preparation steps to fetched entries.
// Stream compression (gzip, xz) is unwrapped lazily so it overlaps the
// transfer; zip archives are expanded only after the underlying bytes are
// fully retrieved.
func prepare(ctx context.Context, entries []Entry, steps []dataset.PrepStep) ([]Entry, error) {
	var err error
	for _, step := range steps {
		switch step.Format {
		case dataset.FormatZip:
			entries, err = expandZip(entries, step.SubPath)
		case dataset.FormatGzip:
			entries, err = unwrapGzip(entries)
		case dataset.FormatXz:
			entries, err = unwrapXz(entries)
		default:
			err = fmt.Errorf("unsupported decompress format %q", step.Format)
		}
		if err != nil {
			for _, e := range entries {
				e.Body.Close()
			}
			return nil, err
		}
	}
	return entries, nil
}

func expandZip(entries []Entry, subPath string) ([]Entry, error) {
	var expanded []Entry
	for _, entry := range entries {
		data, err := io.ReadAll(entry.Body)
		entry.Body.Close()
		if err != nil {
			return expanded, err
		}
		archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return expanded, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, entry.Name, err)
		}
		for _, file := range archive.File {
			if file.FileInfo().IsDir() {
				continue
			}
			if subPath != "" {
				ok, err := path.Match(subPath, file.Name)
				if err != nil {
					return expanded, err
				}
				if !ok {
					continue
				}
			}
			content, err := file.Open()
			if err != nil {
				return expanded, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, entry.Name, err)
			}
			expanded = append(expanded, Entry{Name: path.Base(file.Name), Body: content})
		}
	}
	return expanded, nil
}

func unwrapGzip(entries []Entry) ([]Entry, error) {
	unwrapped := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		r, err := gzip.NewReader(entry.Body)
		if err != nil {
			entry.Body.Close()
			return unwrapped, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, entry.Name, err)
		}
		unwrapped = append(unwrapped, Entry{
			Name: strings.TrimSuffix(entry.Name, ".gz"),
			Body: &wrappedBody{Reader: r, inner: entry.Body},
		})
	}
	return unwrapped, nil
}

func unwrapXz(entries []Entry) ([]Entry, error) {
	unwrapped := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		r, err := xz.NewReader(entry.Body)
		if err != nil {
			entry.Body.Close()
			return unwrapped, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, entry.Name, err)
		}
		unwrapped = append(unwrapped, Entry{
			Name: strings.TrimSuffix(entry.Name, ".xz"),
			Body: &wrappedBody{Reader: r, inner: entry.Body},
		})
	}
	return unwrapped, nil
}

// wrappedBody closes the underlying transport stream along with the
// decompressor.
type wrappedBody struct {
	io.Reader
	inner io.Closer
}

func (w *wrappedBody) Close() error {
	var err error
	if closer, ok := w.Reader.(io.Closer); ok {
		err = closer.Close()
	}
	if cerr := w.inner.Close(); err == nil {
		err = cerr
	}
	return err
}
