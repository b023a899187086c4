package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"calmirror/internal/config"
	"calmirror/internal/credential"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively write the configuration file",
	Long: `init walks through the workspace and calendar settings, stores secrets
in the system keyring, and writes a configuration file that references
them. Existing values in the file are kept as defaults.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var (
		databaseID = cfg.Workspace.DatabaseID
		wsToken    string
		provider   = cfg.Calendar.Provider
		glyphStyle = cfg.Calendar.GlyphStyle
		timezone   = cfg.Calendar.Timezone
	)

	base := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Workspace Database ID").
				Description("The task database to mirror").
				Placeholder("1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d").
				Value(&databaseID).
				Validate(validateRequired("Database ID")),
			huh.NewInput().
				Title("Workspace Token").
				Description("Integration token; stored in the system keyring").
				EchoMode(huh.EchoModePassword).
				Value(&wsToken).
				Validate(validateRequired("Token")),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Calendar Provider").
				Description("Where the mirrored events live").
				Options(
					huh.NewOption("CalDAV - iCloud or any CalDAV server", "caldav"),
					huh.NewOption("Google Calendar", "google"),
				).
				Value(&provider),
			huh.NewSelect[string]().
				Title("Summary Glyphs").
				Description("Status markers prefixed to event titles").
				Options(
					huh.NewOption("Emoji (⬜ ⚙️ ✅)", "emoji"),
					huh.NewOption("Plain symbols (○ ⊖ ✓)", "symbol"),
				).
				Value(&glyphStyle),
			huh.NewInput().
				Title("Calendar Timezone").
				Description("Optional IANA zone for the provisioned calendar").
				Placeholder("Europe/Berlin").
				Value(&timezone).
				Validate(validateTimezone),
		),
	)
	if err := base.Run(); err != nil {
		return err
	}

	switch provider {
	case "caldav":
		if err := initCalDAV(cfg); err != nil {
			return err
		}
	case "google":
		if err := initGoogle(cfg); err != nil {
			return err
		}
	}

	if err := credential.Set(credential.KeyWorkspaceToken, wsToken); err != nil {
		return err
	}

	cfg.Workspace.DatabaseID = strings.TrimSpace(databaseID)
	cfg.Workspace.Token = credential.Ref(credential.KeyWorkspaceToken)
	cfg.Calendar.Provider = provider
	cfg.Calendar.GlyphStyle = glyphStyle
	cfg.Calendar.Timezone = strings.TrimSpace(timezone)

	if err := initService(cfg); err != nil {
		return err
	}

	if err := config.Save(configPath, cfg); err != nil {
		return err
	}

	fmt.Printf("wrote %s\n", configPath)
	return nil
}

func initCalDAV(cfg *config.Config) error {
	var (
		username = cfg.Calendar.Username
		password string
		origin   = cfg.Calendar.Origin
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("CalDAV Username").
				Description("For iCloud, the Apple ID email").
				Value(&username).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("CalDAV Password").
				Description("For iCloud, an app-specific password; stored in the keyring").
				EchoMode(huh.EchoModePassword).
				Value(&password).
				Validate(validateRequired("Password")),
			huh.NewInput().
				Title("CalDAV Origin").
				Description("Leave empty for iCloud").
				Placeholder("https://caldav.example.com/").
				Value(&origin).
				Validate(validateOptionalURL),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	if err := credential.Set(credential.KeyCalDAVPassword, password); err != nil {
		return err
	}

	cfg.Calendar.Username = strings.TrimSpace(username)
	cfg.Calendar.Password = credential.Ref(credential.KeyCalDAVPassword)
	cfg.Calendar.Origin = strings.TrimSpace(origin)
	return nil
}

func initGoogle(cfg *config.Config) error {
	var (
		credentialsFile = cfg.Calendar.CredentialsFile
		tokenFile       = cfg.Calendar.TokenFile
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("OAuth Client File").
				Description("Path to the downloaded client credentials JSON").
				Placeholder("~/.config/calmirror/google-client.json").
				Value(&credentialsFile).
				Validate(validateRequired("Client file")),
			huh.NewInput().
				Title("OAuth Token File").
				Description("Path to the stored token JSON").
				Placeholder("~/.config/calmirror/google-token.json").
				Value(&tokenFile).
				Validate(validateRequired("Token file")),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Calendar.CredentialsFile = strings.TrimSpace(credentialsFile)
	cfg.Calendar.TokenFile = strings.TrimSpace(tokenFile)
	return nil
}

// initService collects the optional service secrets. Blank answers leave
// the corresponding feature disabled or provider-bootstrapped.
func initService(cfg *config.Config) error {
	var adminToken, webhookSeed string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Admin API Token").
				Description("Optional; empty disables the admin endpoints").
				EchoMode(huh.EchoModePassword).
				Value(&adminToken),
			huh.NewInput().
				Title("Webhook Secret Seed").
				Description("Optional; verifies deliveries until the provider handshake").
				EchoMode(huh.EchoModePassword).
				Value(&webhookSeed),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	if strings.TrimSpace(adminToken) != "" {
		if err := credential.Set(credential.KeyAdminToken, adminToken); err != nil {
			return err
		}
		cfg.Server.AdminToken = credential.Ref(credential.KeyAdminToken)
	}
	if strings.TrimSpace(webhookSeed) != "" {
		if err := credential.Set(credential.KeyWebhookSeed, webhookSeed); err != nil {
			return err
		}
		cfg.Webhook.SecretSeed = credential.Ref(credential.KeyWebhookSeed)
	}
	return nil
}

// --- Validators ---

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateOptionalURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parsed, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("URL must include scheme and host (e.g., https://example.com)")
	}
	return nil
}

func validateTimezone(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := time.LoadLocation(strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("unknown timezone: %v", err)
	}
	return nil
}
