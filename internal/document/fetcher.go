// Package document acquires document bytes from a URL or local path and
// extracts their plain text.
package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/errors"
)

// Fetcher loads documents over HTTP(S), or from files under a local root.
type Fetcher struct {
	client    *http.Client
	maxBytes  int64
	localRoot string
	logger    *slog.Logger
}

// NewFetcher creates a Fetcher. maxBytes <= 0 disables the size limit.
// Local references resolve inside localRoot and may not leave it, symlinks
// included; an empty localRoot refuses every local reference.
func NewFetcher(timeout time.Duration, maxBytes int64, localRoot string) *Fetcher {
	if localRoot != "" {
		if abs, err := filepath.Abs(localRoot); err == nil {
			localRoot = abs
		}
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		maxBytes:  maxBytes,
		localRoot: localRoot,
		logger:    slog.Default().With("component", "document-fetcher"),
	}
}

// Fetch returns the raw bytes referenced by ref.
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "document reference is empty")
	}
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		data, err = f.fetchURL(ctx, ref)
	} else {
		data, err = f.readFile(ref)
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.ErrDocumentFetch, http.StatusBadRequest, "document is empty")
	}
	f.logger.Debug("document fetched", "bytes", len(data))
	return data, nil
}

func (f *Fetcher) fetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, http.StatusBadRequest, err, "invalid document URL")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetching document: %w", ctx.Err())
		}
		return nil, apperrors.Wrap(apperrors.ErrDocumentFetch, http.StatusBadRequest, err, "downloading document")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusBadRequest, "document URL returned %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, apperrors.Newf(apperrors.ErrDocumentFetch, http.StatusBadRequest, "document URL returned %d", resp.StatusCode)
	}
	return f.readLimited(resp.Body)
}

func (f *Fetcher) readFile(ref string) ([]byte, error) {
	if f.localRoot == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "documents must be an http(s) URL")
	}
	name, ok := f.localName(ref)
	if !ok {
		f.logger.Warn("local document outside root refused", "ref", ref, "root", f.localRoot)
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "%s is outside the document root", ref)
	}

	root, err := os.OpenRoot(f.localRoot)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDocumentFetch, http.StatusBadRequest, err, "opening document root")
	}
	defer root.Close()

	file, err := root.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusBadRequest, "no document at %s", ref)
		}
		return nil, apperrors.Wrap(apperrors.ErrDocumentFetch, http.StatusBadRequest, err, "opening document")
	}
	defer file.Close()
	return f.readLimited(file)
}

// localName maps ref to a path relative to the local root. Absolute refs
// must point inside the root; relative refs must not climb out of it.
func (f *Fetcher) localName(ref string) (string, bool) {
	name := filepath.Clean(ref)
	if filepath.IsAbs(name) {
		rel, err := filepath.Rel(f.localRoot, name)
		if err != nil {
			return "", false
		}
		name = rel
	}
	return name, filepath.IsLocal(name)
}

func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	if f.maxBytes > 0 {
		r = io.LimitReader(r, f.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDocumentFetch, http.StatusBadRequest, err, "reading document")
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, apperrors.Newf(apperrors.ErrDocumentFetch, http.StatusBadRequest, "document exceeds %d bytes", f.maxBytes)
	}
	return data, nil
}
