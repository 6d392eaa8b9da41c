// Package deploy turns a website configuration into a hosting bundle and
// pushes it to the selected provider.
package deploy

import "sort"

const (
	HostVercel  = "vercel"
	HostNetlify = "netlify"
	HostRender  = "render"
	HostFly     = "fly"
	HostDocker  = "docker"
)

const (
	DBNeon     = "neon"
	DBSupabase = "supabase"
	DBPostgres = "postgres"
	DBNone     = "none"
)

type HostingProvider struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Serverless  bool     `json:"serverless"`
	ConfigFiles []string `json:"config_files"`
	// APIDeploy is false for providers that only get a downloadable bundle.
	APIDeploy     bool     `json:"api_deploy"`
	NeedsTarget   bool     `json:"needs_target"`
	Regions       []string `json:"regions"`
	DefaultDomain string   `json:"default_domain"`
}

type DatabaseProvider struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	External bool     `json:"external"`
	EnvVars  []string `json:"env_vars"`
	Notes    string   `json:"notes"`
}

var hostingProviders = map[string]HostingProvider{
	HostVercel: {
		ID: HostVercel, Name: "Vercel", Serverless: true,
		ConfigFiles: []string{"vercel.json"}, APIDeploy: true,
		Regions:       []string{"iad1", "sfo1", "fra1", "lhr1", "syd1", "hnd1"},
		DefaultDomain: "vercel.app",
	},
	HostNetlify: {
		ID: HostNetlify, Name: "Netlify", Serverless: true,
		ConfigFiles: []string{"netlify.toml"}, APIDeploy: true, NeedsTarget: true,
		DefaultDomain: "netlify.app",
	},
	HostRender: {
		ID: HostRender, Name: "Render",
		ConfigFiles: []string{"render.yaml"}, APIDeploy: true, NeedsTarget: true,
		Regions:       []string{"oregon", "ohio", "virginia", "frankfurt", "singapore"},
		DefaultDomain: "onrender.com",
	},
	HostFly: {
		ID: HostFly, Name: "Fly.io",
		ConfigFiles:   []string{"fly.toml", "Dockerfile"},
		Regions:       []string{"iad", "ord", "sjc", "lhr", "ams", "fra", "syd", "nrt"},
		DefaultDomain: "fly.dev",
	},
	HostDocker: {
		ID: HostDocker, Name: "Docker Compose",
		ConfigFiles: []string{"Dockerfile", "docker-compose.yml"},
	},
}

var databaseProviders = map[string]DatabaseProvider{
	DBNeon: {
		ID: DBNeon, Name: "Neon", External: true,
		EnvVars: []string{"DATABASE_URL"},
		Notes:   "Create a Neon project and copy the pooled connection string into DATABASE_URL.",
	},
	DBSupabase: {
		ID: DBSupabase, Name: "Supabase", External: true,
		EnvVars: []string{"DATABASE_URL", "SUPABASE_URL", "SUPABASE_ANON_KEY"},
		Notes:   "Create a Supabase project; copy the connection string, project URL and anon key.",
	},
	DBPostgres: {
		ID: DBPostgres, Name: "PostgreSQL",
		EnvVars: []string{"DATABASE_URL"},
		Notes:   "Provisioned alongside the site by the hosting provider.",
	},
	DBNone: {
		ID: DBNone, Name: "No database",
		Notes: "The site reads all club data from the ClubHub API.",
	},
}

func Hosting(id string) (HostingProvider, bool) {
	p, ok := hostingProviders[id]
	return p, ok
}

func Database(id string) (DatabaseProvider, bool) {
	p, ok := databaseProviders[id]
	return p, ok
}

// HostingProviders returns the catalog sorted by id.
func HostingProviders() []HostingProvider {
	out := make([]HostingProvider, 0, len(hostingProviders))
	for _, p := range hostingProviders {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func DatabaseProviders() []DatabaseProvider {
	out := make([]DatabaseProvider, 0, len(databaseProviders))
	for _, p := range databaseProviders {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SupportsDatabase reports whether a self-managed postgres can run next to the host.
// External databases work everywhere.
func (h HostingProvider) SupportsDatabase(dbID string) bool {
	if dbID != DBPostgres {
		return true
	}
	return !h.Serverless
}
