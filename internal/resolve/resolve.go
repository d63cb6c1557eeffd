// Package resolve turns package coordinates (purls) into clonable git
// repository urls. GitHub coordinates are resolved locally; everything else
// goes through the deps.dev API.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PQCA/cbomkit-go/internal/model"

	"github.com/package-url/packageurl-go"
)

// Resolver resolves a coordinate to a repository url. Resolution fails when
// no source repository is known for the coordinate.
type Resolver interface {
	Resolve(ctx context.Context, purl packageurl.PackageURL) (model.GitURL, error)
}

// Selector picks a resolver per coordinate ecosystem.
type Selector struct {
	depsDev *DepsDev
}

func NewSelector(depsDevBaseURL string) *Selector {
	return &Selector{
		depsDev: NewDepsDev(depsDevBaseURL),
	}
}

// For returns the dedicated resolver for source-hosting coordinates and the
// deps.dev registry resolver for everything else.
func (s *Selector) For(purl packageurl.PackageURL) Resolver {
	if purl.Type == packageurl.TypeGithub {
		return GitHub{}
	}
	return s.depsDev
}

// GitHub maps pkg:github/namespace/name coordinates directly to the hosting
// repository. The version and subpath segments are not consumed here: the
// process manager reads them as commit and package folder.
type GitHub struct{}

func (GitHub) Resolve(_ context.Context, purl packageurl.PackageURL) (model.GitURL, error) {
	if purl.Namespace == "" || purl.Name == "" {
		return "", fmt.Errorf("github purl %q misses namespace or name", purl.String())
	}
	return model.GitURL("https://github.com/" + purl.Namespace + "/" + purl.Name), nil
}

// DepsDev queries the deps.dev purl lookup endpoint and picks the source
// repository link of the resolved version.
type DepsDev struct {
	baseURL string
	client  *http.Client
}

const DefaultDepsDevURL = "https://api.deps.dev"

func NewDepsDev(baseURL string) *DepsDev {
	if baseURL == "" {
		baseURL = DefaultDepsDevURL
	}
	return &DepsDev{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type depsDevResponse struct {
	Version struct {
		Links []struct {
			Label string `json:"label"`
			URL   string `json:"url"`
		} `json:"links"`
	} `json:"version"`
}

func (d *DepsDev) Resolve(ctx context.Context, purl packageurl.PackageURL) (model.GitURL, error) {
	endpoint := d.baseURL + "/v3alpha/purl/" + url.PathEscape(purl.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("building deps.dev request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("querying deps.dev: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("deps.dev returned %s for %q", resp.Status, purl.String())
	}

	var body depsDevResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding deps.dev response: %w", err)
	}

	for _, link := range body.Version.Links {
		if link.Label == "SOURCE_REPO" {
			return model.GitURL(strings.TrimSuffix(link.URL, ".git")), nil
		}
	}
	return "", fmt.Errorf("no source repository known for %q", purl.String())
}
