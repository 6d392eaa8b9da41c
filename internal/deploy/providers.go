package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/zaqqye/clubhub_backend/internal/storage"
)

const (
	DefaultVercelURL  = "https://api.vercel.com"
	DefaultNetlifyURL = "https://api.netlify.com"
	DefaultRenderURL  = "https://api.render.com"
)

type Credentials struct {
	VercelToken  string
	VercelTeamID string
	NetlifyToken string
	RenderAPIKey string

	// Base URLs, overridable for tests.
	VercelURL  string
	NetlifyURL string
	RenderURL  string
}

// NewDefaultRegistry wires the API deployers and the manual bundle deployer.
func NewDefaultRegistry(creds Credentials, store storage.Storage) *Registry {
	r := NewRegistry()
	r.Register(HostVercel, NewVercelDeployer(orDefault(creds.VercelURL, DefaultVercelURL), creds.VercelToken, creds.VercelTeamID))
	r.Register(HostNetlify, NewNetlifyDeployer(orDefault(creds.NetlifyURL, DefaultNetlifyURL), creds.NetlifyToken))
	r.Register(HostRender, NewRenderDeployer(orDefault(creds.RenderURL, DefaultRenderURL), creds.RenderAPIKey))
	manual := NewManualDeployer(store)
	r.Register(HostFly, manual)
	r.Register(HostDocker, manual)
	return r
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// VercelDeployer creates deployments with inline files.
type VercelDeployer struct {
	api    apiClient
	teamID string
}

func NewVercelDeployer(baseURL, token, teamID string) *VercelDeployer {
	return &VercelDeployer{api: newAPIClient(baseURL, token), teamID: teamID}
}

func (d *VercelDeployer) Name() string { return HostVercel }

func (d *VercelDeployer) query() string {
	if d.teamID == "" {
		return ""
	}
	return "?teamId=" + url.QueryEscape(d.teamID)
}

type vercelFile struct {
	File     string `json:"file"`
	Data     string `json:"data"`
	Encoding string `json:"encoding"`
}

func (d *VercelDeployer) Deploy(ctx context.Context, t Target) (Result, error) {
	files := make([]vercelFile, 0, len(t.Bundle.Files))
	for _, f := range t.Bundle.Files {
		files = append(files, vercelFile{File: f.Path, Data: f.Content, Encoding: "utf-8"})
	}
	body, err := json.Marshal(map[string]any{
		"name":            t.Site.Slug,
		"target":          "production",
		"files":           files,
		"projectSettings": map[string]string{"framework": "nextjs"},
		"meta": map[string]string{
			"clubId":    t.Site.ClubID,
			"websiteId": t.Site.WebsiteID,
		},
	})
	if err != nil {
		return Result{}, err
	}
	res, err := d.api.do(ctx, "POST", "/v13/deployments"+d.query(), "application/json", body)
	if err != nil {
		return Result{}, fmt.Errorf("vercel: %w", err)
	}
	return d.result(res.Get("id").String(), res.Get("url").String(), res.Get("readyState").String(), t.Site), nil
}

func (d *VercelDeployer) Status(ctx context.Context, externalID string) (Result, error) {
	res, err := d.api.do(ctx, "GET", "/v13/deployments/"+url.PathEscape(externalID)+d.query(), "", nil)
	if err != nil {
		return Result{}, fmt.Errorf("vercel: %w", err)
	}
	r := d.result(externalID, res.Get("url").String(), res.Get("readyState").String(), SiteConfig{})
	if alias := res.Get("alias.0").String(); alias != "" {
		r.URL = "https://" + alias
	}
	if msg := res.Get("errorMessage").String(); msg != "" {
		r.Message = msg
	}
	return r, nil
}

func (d *VercelDeployer) result(id, host, readyState string, site SiteConfig) Result {
	r := Result{ExternalID: id, State: vercelState(readyState)}
	if host != "" {
		r.URL = "https://" + host
	}
	if site.Domain != "" {
		r.URL = site.SiteURL()
	}
	return r
}

func vercelState(s string) State {
	switch strings.ToUpper(s) {
	case "READY":
		return StateReady
	case "ERROR":
		return StateError
	case "CANCELED":
		return StateCanceled
	case "BUILDING", "INITIALIZING":
		return StateBuilding
	default:
		return StatePending
	}
}

// NetlifyDeployer uploads the bundle as a zip to an existing site.
type NetlifyDeployer struct {
	api apiClient
}

func NewNetlifyDeployer(baseURL, token string) *NetlifyDeployer {
	return &NetlifyDeployer{api: newAPIClient(baseURL, token)}
}

func (d *NetlifyDeployer) Name() string { return HostNetlify }

func (d *NetlifyDeployer) Deploy(ctx context.Context, t Target) (Result, error) {
	if t.ProviderTarget == "" {
		return Result{}, fmt.Errorf("netlify: website has no site id (provider_target)")
	}
	var buf bytes.Buffer
	if err := t.Bundle.writeZip(&buf, ""); err != nil {
		return Result{}, err
	}
	res, err := d.api.do(ctx, "POST", "/api/v1/sites/"+url.PathEscape(t.ProviderTarget)+"/deploys", "application/zip", buf.Bytes())
	if err != nil {
		return Result{}, fmt.Errorf("netlify: %w", err)
	}
	return netlifyResult(res.Get("id").String(), res.Get("state").String(), res.Get("ssl_url").String(), res.Get("error_message").String()), nil
}

func (d *NetlifyDeployer) Status(ctx context.Context, externalID string) (Result, error) {
	res, err := d.api.do(ctx, "GET", "/api/v1/deploys/"+url.PathEscape(externalID), "", nil)
	if err != nil {
		return Result{}, fmt.Errorf("netlify: %w", err)
	}
	return netlifyResult(externalID, res.Get("state").String(), res.Get("ssl_url").String(), res.Get("error_message").String()), nil
}

func netlifyResult(id, state, sslURL, msg string) Result {
	r := Result{ExternalID: id, URL: sslURL, Message: msg}
	switch state {
	case "ready":
		r.State = StateReady
	case "error", "rejected":
		r.State = StateError
	case "building", "processing", "preparing", "prepared", "uploaded", "uploading":
		r.State = StateBuilding
	default:
		r.State = StatePending
	}
	return r
}

// RenderDeployer triggers a deploy of an existing image-backed service.
type RenderDeployer struct {
	api apiClient
}

func NewRenderDeployer(baseURL, apiKey string) *RenderDeployer {
	return &RenderDeployer{api: newAPIClient(baseURL, apiKey)}
}

func (d *RenderDeployer) Name() string { return HostRender }

func (d *RenderDeployer) Deploy(ctx context.Context, t Target) (Result, error) {
	if t.ProviderTarget == "" {
		return Result{}, fmt.Errorf("render: website has no service id (provider_target)")
	}
	body, err := json.Marshal(map[string]string{
		"clearCache": "do_not_clear",
		"imageUrl":   imageRef(t.Site),
	})
	if err != nil {
		return Result{}, err
	}
	res, err := d.api.do(ctx, "POST", "/v1/services/"+url.PathEscape(t.ProviderTarget)+"/deploys", "application/json", body)
	if err != nil {
		return Result{}, fmt.Errorf("render: %w", err)
	}
	r := renderResult(t.ProviderTarget+"/"+res.Get("id").String(), res.Get("status").String())
	r.URL = t.Site.SiteURL()
	return r, nil
}

func (d *RenderDeployer) Status(ctx context.Context, externalID string) (Result, error) {
	serviceID, deployID, ok := strings.Cut(externalID, "/")
	if !ok {
		return Result{}, fmt.Errorf("render: malformed deploy id %q", externalID)
	}
	res, err := d.api.do(ctx, "GET", "/v1/services/"+url.PathEscape(serviceID)+"/deploys/"+url.PathEscape(deployID), "", nil)
	if err != nil {
		return Result{}, fmt.Errorf("render: %w", err)
	}
	return renderResult(externalID, res.Get("status").String()), nil
}

func renderResult(id, status string) Result {
	r := Result{ExternalID: id}
	switch status {
	case "live":
		r.State = StateReady
	case "build_failed", "update_failed", "pre_deploy_failed", "deactivated":
		r.State = StateError
		r.Message = status
	case "canceled":
		r.State = StateCanceled
	case "build_in_progress", "update_in_progress", "pre_deploy_in_progress":
		r.State = StateBuilding
	default:
		r.State = StatePending
	}
	return r
}

// ManualDeployer stores the bundle zip for hosts without a deploy API.
type ManualDeployer struct {
	store storage.Storage
	now   func() time.Time
}

func NewManualDeployer(store storage.Storage) *ManualDeployer {
	return &ManualDeployer{store: store, now: time.Now}
}

func (d *ManualDeployer) Name() string { return "manual" }

func (d *ManualDeployer) Deploy(ctx context.Context, t Target) (Result, error) {
	if d.store == nil {
		return Result{}, fmt.Errorf("manual deploy: storage is not configured")
	}
	data, err := t.Bundle.Zip()
	if err != nil {
		return Result{}, err
	}
	owner := t.Site.WebsiteID
	if owner == "" {
		owner = t.Site.Slug
	}
	key := fmt.Sprintf("bundles/%s/%s/%s-%s", t.Site.ClubID, owner, d.now().UTC().Format("20060102T150405"), t.Bundle.ZipName())
	if _, err := d.store.Put(ctx, key, bytes.NewReader(data), "application/zip"); err != nil {
		return Result{}, fmt.Errorf("failed to store bundle: %w", err)
	}
	return d.result(key), nil
}

func (d *ManualDeployer) Status(_ context.Context, externalID string) (Result, error) {
	return d.result(externalID), nil
}

func (d *ManualDeployer) result(key string) Result {
	return Result{
		ExternalID: key,
		URL:        d.store.URL(key),
		State:      StateReady,
		Manual:     true,
		Message:    "bundle ready for manual deployment",
	}
}
