// Package catalog resolves the list of selectable models. A remote
// models.json is preferred; the bundled list is the fallback, and an empty
// list is returned when neither can be loaded.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	_ "embed"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/chatplan/models"
)

const (
	DefaultBaseURL = "http://localhost:3000"
	ConfigPath     = "/config/models.json"
)

// Load sources, used as the metric label.
const (
	SourceCache   = "cache"
	SourceRemote  = "remote"
	SourceDefault = "default"
	SourceEmpty   = "empty"
)

var (
	ErrHTMLResponse = errors.New("received HTML instead of JSON")
	ErrInvalidList  = errors.New("invalid model list")
)

//go:embed default-models.json
var defaultModels []byte

//go:embed models_schema.json
var modelsSchemaJSON string

var modelsSchema = jsonschema.MustCompileString("models_schema.json", modelsSchemaJSON)

// Cache stores the raw body of the last good remote catalog.
type Cache interface {
	Get(ctx context.Context) ([]byte, bool, error)
	Set(ctx context.Context, data []byte) error
}

type Option func(*Catalog)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Catalog) {
		if hc != nil {
			c.client = hc
		}
	}
}

func WithCache(cache Cache) Option {
	return func(c *Catalog) { c.cache = cache }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRegisterer registers the load counter on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Catalog) { c.reg = reg }
}

type Catalog struct {
	baseURL  string
	client   *http.Client
	cache    Cache
	logger   *zap.Logger
	reg      prometheus.Registerer
	loads    *prometheus.CounterVec
	defaults []byte
}

func New(baseURL string, opts ...Option) *Catalog {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Catalog{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   zap.NewNop(),
		defaults: defaultModels,
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.Named("catalog")
	c.loads = promauto.With(c.reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatplan",
		Name:      "model_catalog_loads_total",
		Help:      "Model catalog loads by the source that served them.",
	}, []string{"source"})
	return c
}

// GetModels never fails: remote (or cached remote) list, then the bundled
// list, then an empty non-nil slice.
func (c *Catalog) GetModels(ctx context.Context) []models.Model {
	if list, ok := c.fromCache(ctx); ok {
		c.loads.WithLabelValues(SourceCache).Inc()
		return list
	}

	list, err := c.fetch(ctx)
	if err == nil {
		c.loads.WithLabelValues(SourceRemote).Inc()
		return list
	}
	c.logger.Warn("remote model list unavailable, using bundled list", zap.Error(err))

	list, err = Parse(c.defaults)
	if err == nil {
		c.loads.WithLabelValues(SourceDefault).Inc()
		return list
	}
	c.logger.Error("bundled model list invalid", zap.Error(err))
	c.loads.WithLabelValues(SourceEmpty).Inc()
	return []models.Model{}
}

func (c *Catalog) fromCache(ctx context.Context) ([]models.Model, bool) {
	if c.cache == nil {
		return nil, false
	}
	data, ok, err := c.cache.Get(ctx)
	if err != nil {
		c.logger.Warn("model cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	list, err := Parse(data)
	if err != nil {
		c.logger.Warn("cached model list invalid", zap.Error(err))
		return nil, false
	}
	return list, true
}

func (c *Catalog) fetch(ctx context.Context) ([]models.Model, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	target := base.ResolveReference(&url.URL{Path: ConfigPath})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")

	c.logger.Debug("fetching model list", zap.String("url", target.String()))
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http error: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	list, err := Parse(body)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, body); err != nil {
			c.logger.Warn("model cache write failed", zap.Error(err))
		}
	}
	return list, nil
}

// Parse decodes a models.json document. Every entry must be well formed or
// the whole document is rejected.
func Parse(data []byte) ([]models.Model, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) >= 9 && bytes.EqualFold(trimmed[:9], []byte("<!doctype")) {
		return nil, ErrHTMLResponse
	}
	var doc any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidList, err)
	}
	if err := modelsSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidList, err)
	}
	var out struct {
		Models []models.Model `json:"models"`
	}
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidList, err)
	}
	if out.Models == nil {
		out.Models = []models.Model{}
	}
	return out.Models, nil
}

// Enabled returns the models that may be offered to callers.
func Enabled(list []models.Model) []models.Model {
	out := make([]models.Model, 0, len(list))
	for _, m := range list {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}
