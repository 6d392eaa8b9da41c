package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zaqqye/clubhub_backend/internal/database"
	"github.com/zaqqye/clubhub_backend/internal/deploy"
	"github.com/zaqqye/clubhub_backend/internal/models"
)

// siteFile is the on-disk form accepted by --config. JSON files parse too.
// Its fields mirror deploy.SiteConfig so the two convert directly.
type siteFile struct {
	ClubID          string            `yaml:"club_id"`
	ClubName        string            `yaml:"club_name"`
	ClubSlug        string            `yaml:"club_slug"`
	WebsiteID       string            `yaml:"website_id"`
	Name            string            `yaml:"name"`
	Slug            string            `yaml:"slug"`
	Domain          string            `yaml:"domain"`
	Hosting         string            `yaml:"hosting_provider"`
	Database        string            `yaml:"database_provider"`
	Region          string            `yaml:"region"`
	TemplateVersion string            `yaml:"template_version"`
	Image           string            `yaml:"image"`
	APIBaseURL      string            `yaml:"api_base_url"`
	EnvVars         map[string]string `yaml:"env_vars"`
	UpdatedAt       time.Time         `yaml:"updated_at"`
}

var genOpts struct {
	websiteID  string
	configFile string
	site       deploy.SiteConfig
	env        map[string]string
	outDir     string
	zipFile    string
	image      string
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Render a club website deployment bundle",
	Long: `Render the deployment bundle for a stored website (--website-id) or for a
site described by flags or a YAML/JSON --config file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if genOpts.outDir == "" && genOpts.zipFile == "" {
			return fmt.Errorf("one of --out or --zip is required")
		}

		var site deploy.SiteConfig
		image := genOpts.image
		switch {
		case genOpts.websiteID != "":
			cfg, log, db, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			defer database.Close(db) //nolint:errcheck
			var w models.Website
			if err := db.First(&w, "id = ?", genOpts.websiteID).Error; err != nil {
				return fmt.Errorf("website %s: %w", genOpts.websiteID, err)
			}
			var club models.Club
			if err := db.First(&club, "id = ?", w.ClubID).Error; err != nil {
				return fmt.Errorf("club %s: %w", w.ClubID, err)
			}
			if image == "" {
				image = cfg.SiteImage
			}
			site = deploy.SiteFromWebsite(club, w, cfg.PublicBaseURL, image)
		case genOpts.configFile != "":
			data, err := os.ReadFile(genOpts.configFile)
			if err != nil {
				return err
			}
			var f siteFile
			if err := yaml.Unmarshal(data, &f); err != nil {
				return fmt.Errorf("parse %s: %w", genOpts.configFile, err)
			}
			site = deploy.SiteConfig(f)
		default:
			site = genOpts.site
			site.EnvVars = genOpts.env
		}
		if image != "" {
			site.Image = image
		}

		bundle, err := deploy.NewGenerator(image).Generate(site)
		if err != nil {
			return err
		}
		if genOpts.outDir != "" {
			if err := bundle.WriteDir(genOpts.outDir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d files to %s\n", len(bundle.Files), genOpts.outDir)
		}
		if genOpts.zipFile != "" {
			f, err := os.Create(genOpts.zipFile)
			if err != nil {
				return err
			}
			if err := bundle.WriteZip(f); err != nil {
				f.Close() //nolint:errcheck
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", genOpts.zipFile)
		}
		return nil
	},
}

func init() {
	fl := generateCmd.Flags()
	fl.StringVar(&genOpts.websiteID, "website-id", "", "generate for a stored website (needs database access)")
	fl.StringVarP(&genOpts.configFile, "config", "c", "", "YAML or JSON site description")
	fl.StringVar(&genOpts.site.Name, "name", "", "site name")
	fl.StringVar(&genOpts.site.Slug, "slug", "", "site slug (defaults to the slugified name)")
	fl.StringVar(&genOpts.site.Hosting, "hosting", "", "hosting provider")
	fl.StringVar(&genOpts.site.Database, "database", "", "database provider")
	fl.StringVar(&genOpts.site.Region, "region", "", "hosting region")
	fl.StringVar(&genOpts.site.Domain, "domain", "", "custom domain")
	fl.StringVar(&genOpts.site.TemplateVersion, "template-version", "", "site template version")
	fl.StringVar(&genOpts.site.ClubName, "club-name", "", "club display name")
	fl.StringVar(&genOpts.site.ClubSlug, "club-slug", "", "club slug")
	fl.StringVar(&genOpts.site.APIBaseURL, "api-base-url", "", "platform API address baked into the site")
	fl.StringToStringVar(&genOpts.env, "env", nil, "extra environment variables (KEY=value)")
	fl.StringVar(&genOpts.image, "image", "", "container image override")
	fl.StringVarP(&genOpts.outDir, "out", "o", "", "write the bundle into this directory")
	fl.StringVar(&genOpts.zipFile, "zip", "", "write the bundle as a zip archive")
	generateCmd.MarkFlagsMutuallyExclusive("website-id", "config")
}
