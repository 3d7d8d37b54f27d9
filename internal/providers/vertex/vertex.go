// Package vertex adapts the vendor-neutral request model to Vertex AI
// through the official genai SDK. Payload assembly, evidence normalization,
// and error mapping live in the shared googlegenai core; this package
// contributes the Vertex backend wiring, the region that telemetry reports,
// and the workload-identity enforcement applied at startup.
//
// Auth is resolved via Application Default Credentials. With EnforceWIF the
// resolved ADC JSON must be of type "external_account"; service-account keys
// and user credentials are refused before a client is ever built.
package vertex

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"google.golang.org/genai"

	"github.com/nulpointcorp/llm-router/internal/providers"
	"github.com/nulpointcorp/llm-router/internal/providers/googlegenai"
	"github.com/nulpointcorp/llm-router/pkg/llmerr"
)

const (
	defaultLocation = "europe-west4"
	adapterName     = "vertex"
	apiVersion      = "v1"

	adcWellKnownFile = "application_default_credentials.json"
)

// Adapter implements providers.Adapter for Vertex AI.
type Adapter struct {
	project         string
	location        string
	enforceWIF      bool
	credentialsFile string
	baseURL         string
	base            googlegenai.Base
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLocation overrides the default region.
func WithLocation(loc string) Option {
	return func(a *Adapter) {
		if loc != "" {
			a.location = loc
		}
	}
}

// WithEnforceWIF requires the ambient credentials to be Workload Identity
// Federation. Keep it on in production deployments.
func WithEnforceWIF(on bool) Option {
	return func(a *Adapter) { a.enforceWIF = on }
}

// WithCredentialsFile points the WIF check at an explicit ADC file instead
// of the GOOGLE_APPLICATION_CREDENTIALS / gcloud resolution order.
func WithCredentialsFile(path string) Option {
	return func(a *Adapter) { a.credentialsFile = path }
}

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = u }
}

// New creates a new Vertex Adapter. The WIF check runs before the client is
// built so a misconfigured deployment fails at startup, not mid-request.
func New(ctx context.Context, project string, opts ...Option) (*Adapter, error) {
	if ctx == nil {
		panic("vertex: context must not be nil")
	}
	a := &Adapter{
		project:  project,
		location: defaultLocation,
	}
	for _, o := range opts {
		o(a)
	}

	if a.enforceWIF {
		if err := verifyExternalAccount(a.credentialsFile); err != nil {
			return nil, err
		}
	}

	cc := &genai.ClientConfig{
		Project:    a.project,
		Location:   a.location,
		Backend:    genai.BackendVertexAI,
		HTTPClient: &http.Client{Timeout: providers.TransportTimeout},
	}
	if a.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: a.baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, llmerr.Newf(llmerr.KindAuthMissing, "vertex: create client: %v", err).
			WithRemediation("run `gcloud auth application-default login` in development, " +
				"or set GOOGLE_APPLICATION_CREDENTIALS")
	}

	a.base = googlegenai.Base{
		Client:      client,
		Vendor:      providers.VendorVertex,
		ResponseAPI: providers.ResponseAPIVertex,
		APIVersion:  apiVersion,
		Region:      a.location,
	}

	return a, nil
}

func (a *Adapter) Name() string { return adapterName }

func (a *Adapter) Vendor() providers.Vendor { return providers.VendorVertex }

// Location reports the configured region. Telemetry takes region from the
// response, which the shared core stamps from this same value.
func (a *Adapter) Location() string { return a.location }

func (a *Adapter) HealthCheck(ctx context.Context) error {
	return a.base.HealthCheck(ctx)
}

func (a *Adapter) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	return a.base.Complete(ctx, req)
}

// verifyExternalAccount checks that the resolved ADC JSON declares
// type "external_account". Only the type field is inspected; credential
// material is never logged or propagated.
func verifyExternalAccount(explicit string) error {
	path := resolveADCPath(explicit)
	if path == "" {
		return llmerr.New(llmerr.KindAuthMissing,
			"vertex: workload identity enforcement is on but no ADC file was found").
			WithRemediation("provision workload identity federation credentials, " +
				"or set GOOGLE_APPLICATION_CREDENTIALS to the federation JSON")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return llmerr.Newf(llmerr.KindAuthMissing,
			"vertex: read ADC credentials %s: %v", path, err).
			WithRemediation("provision workload identity federation credentials, " +
				"or set GOOGLE_APPLICATION_CREDENTIALS to the federation JSON")
	}

	var cred struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &cred); err != nil {
		return llmerr.Newf(llmerr.KindAuthMissing,
			"vertex: ADC credentials %s are not valid JSON: %v", path, err).
			WithRemediation("point GOOGLE_APPLICATION_CREDENTIALS at the workload identity federation JSON")
	}

	if cred.Type != "external_account" {
		return llmerr.Newf(llmerr.KindAuthMissing,
			"vertex: workload identity enforcement requires external_account credentials, found type %q", cred.Type).
			WithRemediation("provision workload identity federation for this deployment, " +
				"or turn enforcement off outside production")
	}
	return nil
}

// resolveADCPath mirrors the ADC file resolution order: explicit override,
// then GOOGLE_APPLICATION_CREDENTIALS, then the gcloud well-known location.
func resolveADCPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gcloud", adcWellKnownFile)
}
