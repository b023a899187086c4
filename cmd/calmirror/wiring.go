package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"calmirror/internal/calendar"
	"calmirror/internal/calendar/caldav"
	"calmirror/internal/calendar/googlecal"
	"calmirror/internal/config"
	"calmirror/internal/credential"
	"calmirror/internal/model"
	"calmirror/internal/source/workspace"
	"calmirror/internal/store"
)

// bootstrap loads and validates the configuration, resolves keyring
// references and installs the process logger.
func bootstrap() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := resolveSecrets(cfg); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// resolveSecrets expands keyring:<key> references in place.
func resolveSecrets(cfg *config.Config) error {
	fields := []*string{
		&cfg.Workspace.Token,
		&cfg.Calendar.Password,
		&cfg.Server.AdminToken,
		&cfg.Webhook.SecretSeed,
	}
	for _, field := range fields {
		resolved, err := credential.Resolve(*field)
		if err != nil {
			return fmt.Errorf("resolving credential: %w", err)
		}
		*field = resolved
	}
	return nil
}

// seedSettings fills persisted fields the database leaves empty from the
// configuration, once.
func seedSettings(ctx context.Context, st store.Store, cfg *config.Config) (model.SyncState, error) {
	state, err := st.Settings(ctx)
	if err != nil {
		return state, err
	}
	if state.CalendarTimezone == "" && cfg.Calendar.Timezone != "" {
		state.CalendarTimezone = cfg.Calendar.Timezone
		if err := st.SaveSettings(ctx, state); err != nil {
			return state, fmt.Errorf("seeding calendar timezone: %w", err)
		}
	}
	return state, nil
}

// buildSource constructs the workspace task source.
func buildSource(cfg *config.Config) *workspace.Adapter {
	return workspace.NewAdapter(cfg.Workspace.BaseURL, cfg.Workspace.Token, cfg.Workspace.DatabaseID)
}

// buildTarget constructs the configured calendar target with rendering
// inputs frozen from the persisted state.
func buildTarget(ctx context.Context, cfg *config.Config, state model.SyncState) (calendar.Target, error) {
	opts := calendar.RenderOptions{
		Style:            model.GlyphStyle(cfg.Calendar.GlyphStyle),
		Color:            state.CalendarColor,
		DateOnlyLocation: state.DateOnlyLocation(),
	}

	switch cfg.Calendar.Provider {
	case "caldav":
		return caldav.New(caldav.Config{
			Origin:       cfg.Calendar.Origin,
			Username:     cfg.Calendar.Username,
			Password:     cfg.Calendar.Password,
			CalendarHref: state.CalendarID,
		}, opts)
	case "google":
		creds, err := os.ReadFile(cfg.Calendar.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("reading google credentials: %w", err)
		}
		token, err := googleTokenJSON(cfg.Calendar.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("reading google token: %w", err)
		}
		return googlecal.New(ctx, googlecal.Config{
			CalendarID:      state.CalendarID,
			CredentialsJSON: creds,
			TokenJSON:       token,
		}, opts)
	default:
		return nil, fmt.Errorf("unknown calendar provider %q", cfg.Calendar.Provider)
	}
}

// googleTokenJSON loads the OAuth token from the keyring or from a file.
func googleTokenJSON(ref string) ([]byte, error) {
	if strings.HasPrefix(strings.TrimSpace(ref), "keyring:") {
		data, err := credential.Resolve(ref)
		if err != nil {
			return nil, err
		}
		return []byte(data), nil
	}
	return os.ReadFile(ref)
}

// provision ensures the target calendar exists and persists its id when
// it was just discovered or created.
func provision(ctx context.Context, st store.Store, target calendar.Target, state model.SyncState) (model.SyncState, error) {
	id, err := target.Ensure(ctx, calendar.Metadata{
		Name:     state.CalendarName,
		Color:    state.CalendarColor,
		Timezone: state.CalendarTimezone,
	})
	if err != nil {
		return state, fmt.Errorf("provisioning calendar: %w", err)
	}
	if id != state.CalendarID {
		state.CalendarID = id
		if err := st.SaveSettings(ctx, state); err != nil {
			return state, fmt.Errorf("persisting calendar id: %w", err)
		}
	}
	return state, nil
}
