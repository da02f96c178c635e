package npm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/matzehuels/stackpm/pkg/cache"
	"github.com/matzehuels/stackpm/pkg/integrations"
)

// DefaultRegistry is the public npm registry.
const DefaultRegistry = "https://registry.npmjs.org"

// acceptCorgi requests abbreviated metadata when the registry supports it.
const acceptCorgi = "application/vnd.npm.install-v1+json; q=1.0, application/json; q=0.8, */*"

// Packument is the registry document for one package.
type Packument struct {
	Name     string               `json:"name"`
	DistTags map[string]string    `json:"dist-tags"`
	Versions map[string]*Manifest `json:"versions"`
}

// Manifest is the metadata of one published version.
type Manifest struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Dependencies         map[string]string `json:"dependencies,omitempty"`
	OptionalDependencies map[string]string `json:"optionalDependencies,omitempty"`
	PeerDependencies     map[string]string `json:"peerDependencies,omitempty"`
	Dist                 Dist              `json:"dist"`
}

// Dist locates and authenticates a version's tarball.
type Dist struct {
	Tarball   string `json:"tarball"`
	Integrity string `json:"integrity,omitempty"`
	Shasum    string `json:"shasum,omitempty"`
}

// Options configures a [Client].
type Options struct {
	Registry  string        // base URL, defaults to DefaultRegistry
	Cache     cache.Cache   // nil disables caching
	Keyer     cache.Keyer   // defaults to a corgi-scoped DefaultKeyer
	TTL       time.Duration // packument cache lifetime
	UserAgent string
}

// Client fetches packuments from an npm-compatible registry.
type Client struct {
	*integrations.Client
	baseURL string
	keyer   cache.Keyer
}

// NewClient creates a registry client.
func NewClient(opts Options) *Client {
	if opts.Registry == "" {
		opts.Registry = DefaultRegistry
	}
	if opts.Keyer == nil {
		opts.Keyer = cache.NewScopedKeyer(cache.NewDefaultKeyer(), "corgi:")
	}
	headers := map[string]string{"Accept": acceptCorgi}
	if opts.UserAgent != "" {
		headers["User-Agent"] = opts.UserAgent
	}
	return &Client{
		Client:  integrations.NewClient(opts.Cache, "", opts.TTL, headers),
		baseURL: strings.TrimRight(opts.Registry, "/"),
		keyer:   opts.Keyer,
	}
}

// Registry returns the registry base URL.
func (c *Client) Registry() string { return c.baseURL }

// FetchPackument returns the packument for name. A package the registry does
// not know wraps [integrations.ErrNotFound].
func (c *Client) FetchPackument(ctx context.Context, name string, refresh bool) (*Packument, error) {
	name = strings.TrimSpace(name)
	key := c.keyer.PackumentKey(c.baseURL, name)

	var doc Packument
	err := c.Cached(ctx, key, refresh, &doc, func() error {
		doc = Packument{}
		return c.Get(ctx, integrations.JoinURL(c.baseURL, integrations.PackagePath(name)), &doc)
	})
	if err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return nil, fmt.Errorf("%w: npm package %s", err, name)
		}
		return nil, err
	}
	return &doc, nil
}

// OpenTarball streams a tarball. Transient failures are retried before the
// body is returned; the caller must close it.
func (c *Client) OpenTarball(ctx context.Context, url string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := c.Retry(ctx, func() error {
		var err error
		body, err = c.Open(ctx, url)
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}
