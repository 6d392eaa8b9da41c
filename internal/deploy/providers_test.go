package deploy

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/zaqqye/clubhub_backend/internal/storage"
)

func target(t *testing.T, hosting string) Target {
	t.Helper()
	s := site(hosting, DBNone)
	b, err := fixedGenerator().Generate(s)
	require.NoError(t, err)
	return Target{Site: b.Site, Bundle: b}
}

func TestVercelDeployer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer vc-token", r.Header.Get("Authorization"))
		assert.Equal(t, "team_1", r.URL.Query().Get("teamId"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v13/deployments":
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "torque-club", gjson.GetBytes(body, "name").String())
			assert.Equal(t, "vercel.json", gjson.GetBytes(body, `files.#(file=="vercel.json").file`).String())
			w.Write([]byte(`{"id":"dpl_1","url":"torque-club-abc.vercel.app","readyState":"QUEUED"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v13/deployments/dpl_1":
			w.Write([]byte(`{"id":"dpl_1","url":"torque-club-abc.vercel.app","readyState":"READY","alias":["torque-club.vercel.app"]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := NewVercelDeployer(srv.URL, "vc-token", "team_1")
	res, err := d.Deploy(context.Background(), target(t, HostVercel))
	require.NoError(t, err)
	assert.Equal(t, "dpl_1", res.ExternalID)
	assert.Equal(t, StatePending, res.State)
	assert.Equal(t, "https://torque-club-abc.vercel.app", res.URL)

	res, err = d.Status(context.Background(), "dpl_1")
	require.NoError(t, err)
	assert.Equal(t, StateReady, res.State)
	assert.Equal(t, "https://torque-club.vercel.app", res.URL)
}

func TestDeployerWithoutToken(t *testing.T) {
	d := NewVercelDeployer("http://127.0.0.1:1", "", "")
	_, err := d.Deploy(context.Background(), target(t, HostVercel))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingCredentials))
}

func TestDeployerAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"forbidden","message":"Not authorized"}}`))
	}))
	defer srv.Close()

	_, err := NewVercelDeployer(srv.URL, "bad", "").Status(context.Background(), "dpl_1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "Not authorized", apiErr.Message)
}

func TestNetlifyDeployer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/sites/site-1/deploys":
			assert.Equal(t, "application/zip", r.Header.Get("Content-Type"))
			body, _ := io.ReadAll(r.Body)
			zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
			if !assert.NoError(t, err) {
				return
			}
			var names []string
			for _, f := range zr.File {
				names = append(names, f.Name)
			}
			assert.Contains(t, names, "netlify.toml")
			w.Write([]byte(`{"id":"dep-1","state":"uploaded","ssl_url":"https://torque-club.netlify.app"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/deploys/dep-1":
			w.Write([]byte(`{"id":"dep-1","state":"error","error_message":"Build script returned non-zero exit code"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := NewNetlifyDeployer(srv.URL, "nf-token")
	tg := target(t, HostNetlify)

	_, err := d.Deploy(context.Background(), tg)
	require.Error(t, err, "site id is required")

	tg.ProviderTarget = "site-1"
	res, err := d.Deploy(context.Background(), tg)
	require.NoError(t, err)
	assert.Equal(t, StateBuilding, res.State)
	assert.Equal(t, "https://torque-club.netlify.app", res.URL)

	res, err = d.Status(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.Equal(t, StateError, res.State)
	assert.Contains(t, res.Message, "non-zero")
}

func TestRenderDeployer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/services/srv-1/deploys":
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "ghcr.io/clubhub/club-site:latest", gjson.GetBytes(body, "imageUrl").String())
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"dep-9","status":"created"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/services/srv-1/deploys/dep-9":
			w.Write([]byte(`{"id":"dep-9","status":"live"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := NewRenderDeployer(srv.URL, "rnd-key")
	tg := target(t, HostRender)
	tg.ProviderTarget = "srv-1"

	res, err := d.Deploy(context.Background(), tg)
	require.NoError(t, err)
	assert.Equal(t, "srv-1/dep-9", res.ExternalID)
	assert.Equal(t, StatePending, res.State)
	assert.Equal(t, "https://torque-club.onrender.com", res.URL)

	res, err = d.Status(context.Background(), res.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, StateReady, res.State)

	_, err = d.Status(context.Background(), "no-slash")
	assert.Error(t, err)
}

func TestManualDeployerStoresBundle(t *testing.T) {
	store := storage.NewLocalStorage(t.TempDir(), "http://localhost:8080/media")
	d := NewManualDeployer(store)
	res, err := d.Deploy(context.Background(), target(t, HostDocker))
	require.NoError(t, err)

	assert.True(t, res.Manual)
	assert.Equal(t, StateReady, res.State)
	assert.Contains(t, res.ExternalID, "bundles/club-1/web-1/")
	assert.Equal(t, "http://localhost:8080/media/"+res.ExternalID, res.URL)

	rc, err := store.Open(context.Background(), res.ExternalID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	_, err = zip.NewReader(bytes.NewReader(data), int64(len(data)))
	assert.NoError(t, err)
}

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry(Credentials{}, storage.NewLocalStorage(t.TempDir(), ""))
	for _, h := range HostingProviders() {
		d, err := r.For(h.ID)
		require.NoError(t, err)
		if h.APIDeploy {
			assert.Equal(t, h.ID, d.Name())
		} else {
			assert.Equal(t, "manual", d.Name())
		}
	}
	_, err := r.For("heroku")
	assert.Error(t, err)
}
