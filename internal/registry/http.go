// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	// DefaultAPIURL is the crates.io web API.
	DefaultAPIURL = "https://crates.io"
	// DefaultIndexURL is the crates.io sparse index.
	DefaultIndexURL = "https://index.crates.io"

	// maxResponseBytes bounds the size of API and index responses (10 MB).
	maxResponseBytes = 10 << 20
)

type (
	// HTTPClient publishes through the crates.io web API and checks visibility
	// in a sparse index.
	HTTPClient struct {
		httpClient *http.Client
		apiURL     string // API base URL (default: DefaultAPIURL, overridable for tests)
		indexURL   string // Sparse index base URL (default: DefaultIndexURL)
		token      string // API token sent in the Authorization header
		userAgent  string
		packager   Packager
	}

	// ClientOption configures an HTTPClient during construction.
	ClientOption func(*HTTPClient)

	// publishMetadata is the JSON wire format of the upload metadata.
	publishMetadata struct {
		Name        string              `json:"name"`
		Vers        string              `json:"vers"`
		Deps        []publishDependency `json:"deps"`
		Features    map[string][]string `json:"features"`
		Authors     []string            `json:"authors"`
		Description string              `json:"description,omitempty"`
		License     string              `json:"license,omitempty"`
		Keywords    []string            `json:"keywords"`
		Categories  []string            `json:"categories"`
		Badges      map[string]any      `json:"badges"`
	}

	publishDependency struct {
		Name               string   `json:"name"`
		VersionReq         string   `json:"version_req"`
		Features           []string `json:"features"`
		Optional           bool     `json:"optional"`
		DefaultFeatures    bool     `json:"default_features"`
		Target             *string  `json:"target"`
		Kind               string   `json:"kind"`
		ExplicitNameInToml *string  `json:"explicit_name_in_toml,omitempty"`
	}

	// apiErrors is the JSON wire format of an API error response.
	apiErrors struct {
		Errors []struct {
			Detail string `json:"detail"`
		} `json:"errors"`
	}

	// indexEntry is one line of a sparse index file.
	indexEntry struct {
		Name   string `json:"name"`
		Vers   string `json:"vers"`
		Yanked bool   `json:"yanked"`
	}
)

// WithHTTPClient sets a custom HTTP client, useful for tests or proxy configurations.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) {
		h.httpClient = c
	}
}

// WithAPIURL overrides the web API base URL.
func WithAPIURL(base string) ClientOption {
	return func(h *HTTPClient) {
		h.apiURL = strings.TrimRight(base, "/")
	}
}

// WithIndexURL overrides the sparse index base URL.
func WithIndexURL(base string) ClientOption {
	return func(h *HTTPClient) {
		h.indexURL = strings.TrimRight(strings.TrimPrefix(base, "sparse+"), "/")
	}
}

// WithToken sets the API token used for uploads.
func WithToken(token string) ClientOption {
	return func(h *HTTPClient) {
		h.token = token
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(h *HTTPClient) {
		h.userAgent = ua
	}
}

// WithPackager builds the archive right before each upload, after the
// manifest of the release has been rewritten. Without a packager the archive
// must already exist.
func WithPackager(p Packager) ClientOption {
	return func(h *HTTPClient) {
		h.packager = p
	}
}

// NewHTTPClient creates an HTTPClient for crates.io unless overridden.
func NewHTTPClient(opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		httpClient: http.DefaultClient,
		apiURL:     DefaultAPIURL,
		indexURL:   DefaultIndexURL,
		userAgent:  "smart-release/dev",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Publish uploads the packaged crate with PUT /api/v1/crates/new. The body
// is the little-endian u32 length of the JSON metadata, the metadata, the u32
// length of the archive and the archive.
func (c *HTTPClient) Publish(ctx context.Context, a Artifact) error {
	if c.packager != nil {
		if err := c.packager.Package(ctx, a); err != nil {
			return fmt.Errorf("%w: packaging %s %s: %w", ErrArtifact, a.Name, a.Version, err)
		}
	}
	crate, err := os.ReadFile(a.CratePath)
	if err != nil {
		return fmt.Errorf("%w: reading packaged crate: %w", ErrArtifact, err)
	}
	meta, err := json.Marshal(newPublishMetadata(a))
	if err != nil {
		return fmt.Errorf("encoding publish metadata: %w", err)
	}

	var body bytes.Buffer
	body.Grow(8 + len(meta) + len(crate))
	_ = binary.Write(&body, binary.LittleEndian, uint32(len(meta)))
	body.Write(meta)
	_ = binary.Write(&body, binary.LittleEndian, uint32(len(crate)))
	body.Write(crate)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.apiURL+"/api/v1/crates/new", &body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploading %s %s: %w", a.Name, a.Version, err)
	}
	defer resp.Body.Close()

	details := readErrorDetails(io.LimitReader(resp.Body, maxResponseBytes))
	switch {
	case resp.StatusCode == http.StatusOK && len(details) == 0:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, strings.Join(details, "; "))
	case isAlreadyPublished(details):
		return fmt.Errorf("%s %s: %w", a.Name, a.Version, ErrAlreadyPublished)
	default:
		return &APIError{Status: resp.StatusCode, Details: details}
	}
}

// IsVisible reads the package's sparse index file and reports whether it
// lists the version. A missing file means the package is not indexed yet.
func (c *HTTPClient) IsVisible(ctx context.Context, name string, v *semver.Version) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.indexURL+"/"+IndexPath(name), http.NoBody)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("querying index for %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone, http.StatusUnavailableForLegalReasons:
		return false, nil
	default:
		return false, &APIError{Status: resp.StatusCode}
	}
	return indexLists(io.LimitReader(resp.Body, maxResponseBytes), v)
}

func indexLists(r io.Reader, v *semver.Version) (bool, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxResponseBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e indexEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return false, fmt.Errorf("parsing index entry: %w", err)
		}
		if ev, err := semver.StrictNewVersion(e.Vers); err == nil && ev.Equal(v) {
			return true, nil
		}
	}
	if err := sc.Err(); err != nil {
		return false, fmt.Errorf("reading index: %w", err)
	}
	return false, nil
}

func newPublishMetadata(a Artifact) publishMetadata {
	m := publishMetadata{
		Name:        a.Name,
		Vers:        a.Version.String(),
		Deps:        []publishDependency{},
		Features:    map[string][]string{},
		Authors:     []string{},
		Description: a.Description,
		License:     a.License,
		Keywords:    []string{},
		Categories:  []string{},
		Badges:      map[string]any{},
	}
	for _, d := range a.Dependencies {
		pd := publishDependency{
			Name:            d.Name,
			VersionReq:      d.Requirement,
			Features:        []string{},
			Optional:        d.Optional,
			DefaultFeatures: true,
			Kind:            d.Kind,
		}
		if d.Target != "" {
			pd.Target = &d.Target
		}
		if d.ExplicitName != "" {
			pd.ExplicitNameInToml = &d.ExplicitName
		}
		m.Deps = append(m.Deps, pd)
	}
	return m
}

func readErrorDetails(r io.Reader) []string {
	var e apiErrors
	if err := json.NewDecoder(r).Decode(&e); err != nil && !errors.Is(err, io.EOF) {
		return nil
	}
	var out []string
	for _, d := range e.Errors {
		out = append(out, d.Detail)
	}
	return out
}

func isAlreadyPublished(details []string) bool {
	for _, d := range details {
		l := strings.ToLower(d)
		if strings.Contains(l, "already uploaded") || strings.Contains(l, "already exists") {
			return true
		}
	}
	return false
}
