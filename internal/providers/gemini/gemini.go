// Package gemini adapts the vendor-neutral request model to the Gemini API
// (direct, API-key auth) through the official genai SDK. Payload assembly,
// evidence normalization, and error mapping live in the shared googlegenai
// core; this package contributes the backend wiring and the direct-backend
// model policy.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/genai"

	"github.com/nulpointcorp/llm-router/internal/providers"
	"github.com/nulpointcorp/llm-router/internal/providers/googlegenai"
	"github.com/nulpointcorp/llm-router/pkg/llmerr"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	adapterName    = "gemini"
	apiVersion     = "v1beta"
)

// Adapter implements providers.Adapter for Gemini direct.
type Adapter struct {
	apiKey  string
	baseURL string
	base    googlegenai.Base
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = u }
}

// New creates a new Gemini Adapter.
func New(ctx context.Context, apiKey string, opts ...Option) (*Adapter, error) {
	if ctx == nil {
		panic("gemini: context must not be nil")
	}
	a := &Adapter{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(a)
	}

	base, ver := splitBaseURLAndVersion(a.baseURL)

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      a.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: providers.TransportTimeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: base, APIVersion: ver},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	a.base = googlegenai.Base{
		Client:      client,
		Vendor:      providers.VendorGemini,
		ResponseAPI: providers.ResponseAPIGemini,
		APIVersion:  apiVersion,
	}

	return a, nil
}

func (a *Adapter) Name() string { return adapterName }

func (a *Adapter) Vendor() providers.Vendor { return providers.VendorGemini }

func (a *Adapter) HealthCheck(ctx context.Context) error {
	return a.base.HealthCheck(ctx)
}

func (a *Adapter) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	if err := checkModelPolicy(req.Model); err != nil {
		return nil, err
	}
	return a.base.Complete(ctx, req)
}

// checkModelPolicy rejects the flash family on the direct backend. Flash
// grounding produces unanchored evidence too often to honor REQUIRED mode;
// the pro family carries the supported citation shapes.
func checkModelPolicy(model string) error {
	if strings.Contains(strings.ToLower(model), "flash") {
		return llmerr.Newf(llmerr.KindModelNotAllowed,
			"model %q is not served on the direct gemini backend", model).
			WithRemediation("use a gemini pro model here, or route flash workloads through the vertex backend")
	}
	return nil
}

// splitBaseURLAndVersion separates a trailing API version segment from an
// override URL so the SDK keeps versioning the path itself.
func splitBaseURLAndVersion(raw string) (baseURL string, version string) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, ""
	}

	path := strings.Trim(u.Path, "/")
	if path == "" {
		base := u.String()
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		return base, ""
	}

	parts := strings.Split(path, "/")
	last := parts[len(parts)-1]

	if looksLikeAPIVersion(last) {
		version = last
		parts = parts[:len(parts)-1]
	}

	u.Path = "/" + strings.Join(parts, "/")
	if u.Path == "/" {
		u.Path = ""
	}

	baseURL = u.String()
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL, version
}

func looksLikeAPIVersion(s string) bool {
	if !strings.HasPrefix(s, "v") || len(s) < 2 {
		return false
	}
	return s[1] >= '0' && s[1] <= '9'
}
