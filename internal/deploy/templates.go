package deploy

import (
	"strings"
	"text/template"
)

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
}

var envTemplate = template.Must(template.New(".env.example").Funcs(funcs).Parse(`# Environment for {{ .Site.Name }} ({{ .Site.ClubName }})
# Copy to .env and fill in the secret values.
{{ range .Env }}
{{- if .Note }}# {{ .Note }}
{{ end -}}
{{ .Key }}={{ .Value }}
{{ end -}}
`))

var dockerfileTemplate = template.Must(template.New("Dockerfile").Parse(`FROM {{ .Image }}

LABEL org.opencontainers.image.title="{{ .Site.Name }}" \
      club.clubhub.id="{{ .Site.ClubID }}" \
      club.clubhub.template="{{ .Site.TemplateVersion }}"

ENV NODE_ENV=production \
    PORT={{ .Port }}

EXPOSE {{ .Port }}

HEALTHCHECK --interval=30s --timeout=5s --retries=3 \
  CMD wget -qO- http://127.0.0.1:{{ .Port }}/api/health || exit 1
`))

var deployDocTemplate = template.Must(template.New("DEPLOY.md").Funcs(funcs).Parse(`# Deploying {{ .Site.Name }}

Club: {{ .Site.ClubName }}
Hosting: {{ .Host.Name }}
Database: {{ .DB.Name }}
{{- if .Site.Region }}
Region: {{ .Site.Region }}
{{- end }}
Site URL: {{ .Site.SiteURL }}

## 1. Environment

Copy ` + "`.env.example`" + ` to ` + "`.env`" + ` and fill in every empty or placeholder value.
Secrets are never written to the configuration files in this bundle.
{{ if ne .DB.ID "none" }}
## 2. Database

{{ .DB.Notes }}
{{- if eq .DB.ID "postgres" }}
{{- if eq .Host.ID "docker" }}

A ` + "`db`" + ` service is defined in ` + "`docker-compose.yml`" + ` with a persistent volume.
Change the password in both ` + "`docker-compose.yml`" + ` and ` + "`.env`" + `.
{{- else if eq .Host.ID "render" }}

` + "`render.yaml`" + ` declares a managed database and wires DATABASE_URL from it.
{{- else if eq .Host.ID "fly" }}

    fly postgres create --name {{ .Site.Slug }}-db --region {{ .Site.Region }}
    fly postgres attach {{ .Site.Slug }}-db --app {{ .Site.Slug }}
{{- end }}
{{- end }}
{{ end }}
## {{ if ne .DB.ID "none" }}3{{ else }}2{{ end }}. Deploy

{{ if eq .Host.ID "vercel" -}}
    npm i -g vercel
    vercel link
    vercel env add DATABASE_URL production   # repeat for every secret
    vercel deploy --prod
{{- else if eq .Host.ID "netlify" -}}
    npm i -g netlify-cli
    netlify link
    netlify env:import .env
    netlify deploy --build --prod
{{- else if eq .Host.ID "render" -}}
Push this bundle to a repository and create a Blueprint from ` + "`render.yaml`" + `
in the Render dashboard. Secret variables are marked ` + "`sync: false`" + ` and
must be entered when the Blueprint is applied.
{{- else if eq .Host.ID "fly" -}}
    fly launch --no-deploy --copy-config
    fly secrets import < .env
    fly deploy
{{- else -}}
    docker compose up -d --build
{{- end }}
{{ if .Site.Domain }}
## Custom domain

Point a CNAME for {{ .Site.Domain }} at the address given by {{ .Host.Name }}.
{{ end -}}
`))
