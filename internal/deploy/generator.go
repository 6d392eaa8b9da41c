package deploy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"text/template"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// GeneratorVersion is stamped into every manifest.
const GeneratorVersion = "1.0.0"

type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	SHA256  string `json:"sha256"`
	Size    int    `json:"size"`
}

type ManifestEntry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int    `json:"size"`
}

type Manifest struct {
	Generator       string          `json:"generator"`
	Version         string          `json:"version"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ClubID          string          `json:"club_id"`
	WebsiteID       string          `json:"website_id,omitempty"`
	Site            string          `json:"site"`
	Hosting         string          `json:"hosting_provider"`
	Database        string          `json:"database_provider"`
	Region          string          `json:"region,omitempty"`
	TemplateVersion string          `json:"template_version"`
	SiteURL         string          `json:"site_url"`
	Files           []ManifestEntry `json:"files"`
}

// Bundle is the generated set of files, sorted by path.
type Bundle struct {
	Site     SiteConfig `json:"site"`
	Manifest Manifest   `json:"manifest"`
	Files    []File     `json:"files"`
}

// File returns the file at path.
func (b *Bundle) File(path string) (File, bool) {
	for _, f := range b.Files {
		if f.Path == path {
			return f, true
		}
	}
	return File{}, false
}

type Generator struct {
	// Image is the container image used when the site config has none.
	Image string
}

func NewGenerator(image string) *Generator {
	return &Generator{Image: image}
}

type renderContext struct {
	Site  SiteConfig
	Host  HostingProvider
	DB    DatabaseProvider
	Env   []envVar
	Image string
	Port  int
}

// Generate validates site and renders its bundle.
func (g *Generator) Generate(site SiteConfig) (*Bundle, error) {
	site.Normalize()
	if site.Image == "" {
		site.Image = g.Image
	}
	if err := site.Validate(); err != nil {
		return nil, err
	}
	host, _ := Hosting(site.Hosting)
	db, _ := Database(site.Database)
	rc := renderContext{
		Site:  site,
		Host:  host,
		DB:    db,
		Env:   site.environment(),
		Image: imageRef(site),
		Port:  sitePort,
	}

	renderers := map[string]func() ([]byte, error){
		".env.example": func() ([]byte, error) { return execute(envTemplate, rc) },
		"DEPLOY.md":    func() ([]byte, error) { return execute(deployDocTemplate, rc) },
	}
	dockerfile := func() ([]byte, error) { return execute(dockerfileTemplate, rc) }
	switch site.Hosting {
	case HostVercel:
		renderers["vercel.json"] = func() ([]byte, error) { return vercelConfig(site) }
	case HostNetlify:
		renderers["netlify.toml"] = func() ([]byte, error) { return netlifyConfig(site) }
	case HostRender:
		renderers["render.yaml"] = func() ([]byte, error) { return renderBlueprint(rc) }
	case HostFly:
		renderers["fly.toml"] = func() ([]byte, error) { return flyConfig(site) }
		renderers["Dockerfile"] = dockerfile
	case HostDocker:
		renderers["Dockerfile"] = dockerfile
		renderers["docker-compose.yml"] = func() ([]byte, error) { return composeFile(site) }
	}

	files := make(map[string][]byte, len(renderers)+1)
	for path, render := range renderers {
		content, err := render()
		if err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", path, err)
		}
		files[path] = content
	}

	manifest := Manifest{
		Generator:       "clubhub",
		Version:         GeneratorVersion,
		UpdatedAt:       site.UpdatedAt.UTC(),
		ClubID:          site.ClubID,
		WebsiteID:       site.WebsiteID,
		Site:            site.Name,
		Hosting:         site.Hosting,
		Database:        site.Database,
		Region:          site.Region,
		TemplateVersion: site.TemplateVersion,
		SiteURL:         site.SiteURL(),
	}
	for _, path := range sortedPaths(files) {
		content := files[path]
		manifest.Files = append(manifest.Files, ManifestEntry{Path: path, SHA256: digest(content), Size: len(content)})
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render manifest.json: %w", err)
	}
	files["manifest.json"] = append(manifestJSON, '\n')

	bundle := &Bundle{Site: site, Manifest: manifest}
	for _, path := range sortedPaths(files) {
		content := files[path]
		bundle.Files = append(bundle.Files, File{
			Path:    path,
			Content: string(content),
			SHA256:  digest(content),
			Size:    len(content),
		})
	}
	return bundle, nil
}

func imageRef(site SiteConfig) string {
	if site.TemplateVersion == "" || site.TemplateVersion == "latest" {
		return site.Image
	}
	// Replace the tag of the configured image with the pinned template version.
	for i := len(site.Image) - 1; i >= 0; i-- {
		switch site.Image[i] {
		case ':':
			return site.Image[:i] + ":" + site.TemplateVersion
		case '/':
			return site.Image + ":" + site.TemplateVersion
		}
	}
	return site.Image + ":" + site.TemplateVersion
}

func execute(t *template.Template, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func sortedPaths(files map[string][]byte) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func vercelConfig(site SiteConfig) ([]byte, error) {
	cfg := map[string]any{
		"$schema":      "https://openapi.vercel.sh/vercel.json",
		"framework":    "nextjs",
		"buildCommand": "npm run build",
		"env":          site.publicEnv(),
	}
	if site.Region != "" {
		cfg["regions"] = []string{site.Region}
	}
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

type netlifyFile struct {
	Build   netlifyBuild    `toml:"build"`
	Plugins []netlifyPlugin `toml:"plugins"`
}

type netlifyBuild struct {
	Command     string            `toml:"command"`
	Publish     string            `toml:"publish"`
	Environment map[string]string `toml:"environment"`
}

type netlifyPlugin struct {
	Package string `toml:"package"`
}

func netlifyConfig(site SiteConfig) ([]byte, error) {
	env := site.publicEnv()
	env["NODE_VERSION"] = "20"
	return toml.Marshal(netlifyFile{
		Build: netlifyBuild{
			Command:     "npm run build",
			Publish:     ".next",
			Environment: env,
		},
		Plugins: []netlifyPlugin{{Package: "@netlify/plugin-nextjs"}},
	})
}

type flyFile struct {
	App           string            `toml:"app"`
	PrimaryRegion string            `toml:"primary_region"`
	Build         flyBuild          `toml:"build"`
	Env           map[string]string `toml:"env"`
	HTTPService   flyHTTPService    `toml:"http_service"`
	VM            []flyVM           `toml:"vm"`
}

type flyBuild struct {
	Dockerfile string `toml:"dockerfile"`
}

type flyHTTPService struct {
	InternalPort       int    `toml:"internal_port"`
	ForceHTTPS         bool   `toml:"force_https"`
	AutoStopMachines   string `toml:"auto_stop_machines"`
	AutoStartMachines  bool   `toml:"auto_start_machines"`
	MinMachinesRunning int    `toml:"min_machines_running"`
}

type flyVM struct {
	Memory  string `toml:"memory"`
	CPUKind string `toml:"cpu_kind"`
	CPUs    int    `toml:"cpus"`
}

func flyConfig(site SiteConfig) ([]byte, error) {
	return toml.Marshal(flyFile{
		App:           site.Slug,
		PrimaryRegion: site.Region,
		Build:         flyBuild{Dockerfile: "Dockerfile"},
		Env:           site.publicEnv(),
		HTTPService: flyHTTPService{
			InternalPort:      sitePort,
			ForceHTTPS:        true,
			AutoStopMachines:  "stop",
			AutoStartMachines: true,
		},
		VM: []flyVM{{Memory: "512mb", CPUKind: "shared", CPUs: 1}},
	})
}

type renderFile struct {
	Services  []renderService  `yaml:"services"`
	Databases []renderDatabase `yaml:"databases,omitempty"`
}

type renderService struct {
	Type            string         `yaml:"type"`
	Name            string         `yaml:"name"`
	Runtime         string         `yaml:"runtime"`
	Image           renderImage    `yaml:"image"`
	Region          string         `yaml:"region,omitempty"`
	Plan            string         `yaml:"plan"`
	HealthCheckPath string         `yaml:"healthCheckPath"`
	Domains         []string       `yaml:"domains,omitempty"`
	EnvVars         []renderEnvVar `yaml:"envVars"`
}

type renderImage struct {
	URL string `yaml:"url"`
}

type renderEnvVar struct {
	Key          string        `yaml:"key"`
	Value        string        `yaml:"value,omitempty"`
	Sync         *bool         `yaml:"sync,omitempty"`
	FromDatabase *renderFromDB `yaml:"fromDatabase,omitempty"`
}

type renderFromDB struct {
	Name     string `yaml:"name"`
	Property string `yaml:"property"`
}

type renderDatabase struct {
	Name         string `yaml:"name"`
	DatabaseName string `yaml:"databaseName"`
	User         string `yaml:"user"`
	Plan         string `yaml:"plan"`
	Region       string `yaml:"region,omitempty"`
}

func renderBlueprint(rc renderContext) ([]byte, error) {
	site := rc.Site
	dbName := site.Slug + "-db"
	noSync := false

	svc := renderService{
		Type:            "web",
		Name:            site.Slug,
		Runtime:         "image",
		Image:           renderImage{URL: rc.Image},
		Region:          site.Region,
		Plan:            "starter",
		HealthCheckPath: "/api/health",
	}
	if site.Domain != "" {
		svc.Domains = []string{site.Domain}
	}
	for _, v := range rc.Env {
		switch {
		case v.Key == "DATABASE_URL" && site.Database == DBPostgres:
			svc.EnvVars = append(svc.EnvVars, renderEnvVar{
				Key:          v.Key,
				FromDatabase: &renderFromDB{Name: dbName, Property: "connectionString"},
			})
		case v.Secret:
			svc.EnvVars = append(svc.EnvVars, renderEnvVar{Key: v.Key, Sync: &noSync})
		default:
			svc.EnvVars = append(svc.EnvVars, renderEnvVar{Key: v.Key, Value: v.Value})
		}
	}

	file := renderFile{Services: []renderService{svc}}
	if site.Database == DBPostgres {
		file.Databases = []renderDatabase{{
			Name:         dbName,
			DatabaseName: site.dbName(),
			User:         site.dbName(),
			Plan:         "basic-256mb",
			Region:       site.Region,
		}}
	}
	return marshalYAML(file)
}

type composeFileSpec struct {
	Services map[string]composeService `yaml:"services"`
	Volumes  map[string]struct{}       `yaml:"volumes,omitempty"`
}

type composeService struct {
	Image       string                    `yaml:"image,omitempty"`
	Build       string                    `yaml:"build,omitempty"`
	Restart     string                    `yaml:"restart"`
	Ports       []string                  `yaml:"ports,omitempty"`
	EnvFile     []string                  `yaml:"env_file,omitempty"`
	Environment map[string]string         `yaml:"environment,omitempty"`
	DependsOn   map[string]composeDepends `yaml:"depends_on,omitempty"`
	Volumes     []string                  `yaml:"volumes,omitempty"`
	Healthcheck *composeHealthcheck       `yaml:"healthcheck,omitempty"`
}

type composeDepends struct {
	Condition string `yaml:"condition"`
}

type composeHealthcheck struct {
	Test     []string `yaml:"test"`
	Interval string   `yaml:"interval"`
	Timeout  string   `yaml:"timeout"`
	Retries  int      `yaml:"retries"`
}

func composeFile(site SiteConfig) ([]byte, error) {
	spec := composeFileSpec{Services: map[string]composeService{
		"site": {
			Build:   ".",
			Restart: "unless-stopped",
			Ports:   []string{fmt.Sprintf("%d:%d", sitePort, sitePort)},
			EnvFile: []string{".env"},
		},
	}}
	if site.Database == DBPostgres {
		name := site.dbName()
		svc := spec.Services["site"]
		svc.DependsOn = map[string]composeDepends{"db": {Condition: "service_healthy"}}
		spec.Services["site"] = svc
		spec.Services["db"] = composeService{
			Image:   "postgres:16-alpine",
			Restart: "unless-stopped",
			Environment: map[string]string{
				"POSTGRES_DB":       name,
				"POSTGRES_USER":     name,
				"POSTGRES_PASSWORD": "change-me",
			},
			Volumes: []string{"db-data:/var/lib/postgresql/data"},
			Healthcheck: &composeHealthcheck{
				Test:     []string{"CMD-SHELL", "pg_isready -U " + name},
				Interval: "10s",
				Timeout:  "5s",
				Retries:  5,
			},
		}
		spec.Volumes = map[string]struct{}{"db-data": {}}
	}
	return marshalYAML(spec)
}

func marshalYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
