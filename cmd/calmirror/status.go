package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"calmirror/internal/config"
	"calmirror/internal/store"
	"calmirror/internal/theme"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted sync state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// runStatus only reads the local database, so it loads the configuration
// without validating workspace or calendar credentials.
func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	state, err := st.Settings(ctx)
	if err != nil {
		return err
	}
	mappings, err := st.Mappings(ctx)
	if err != nil {
		return err
	}

	fmt.Println(theme.HeaderStyle.Render("calmirror status"))
	fmt.Println()

	line := func(label, value string) {
		fmt.Printf("%s %s\n", theme.LabelStyle.Width(18).Render(label), value)
	}

	calendarID := theme.SubtleStyle.Render("not provisioned")
	if state.CalendarID != "" {
		calendarID = state.CalendarID
	}
	timezone := theme.SubtleStyle.Render("none")
	if state.CalendarTimezone != "" {
		timezone = state.CalendarTimezone
	}
	dateOnlyTZ := theme.SubtleStyle.Render("calendar timezone")
	if state.DateOnlyTimezone != "" {
		dateOnlyTZ = state.DateOnlyTimezone
	}

	line("Calendar", state.CalendarName)
	line("Calendar ID", calendarID)
	line("Color", state.CalendarColor)
	line("Timezone", timezone)
	line("Date-only TZ", dateOnlyTZ)
	line("Mapped tasks", fmt.Sprintf("%d", len(mappings)))
	fmt.Println()

	interval := state.FullSyncIntervalMinutes
	lastFull := theme.SubtleStyle.Render("never")
	if state.LastFullSyncAt != nil {
		lastFull = state.LastFullSyncAt.UTC().Format(time.RFC3339)
	}
	due := theme.SubtleStyle.Render("no")
	if state.FullSyncDue(time.Now()) {
		due = theme.WarnStyle.Render("yes")
	}

	line("Full sync every", fmt.Sprintf("%dm", interval))
	line("Last full sync", lastFull)
	line("Full sync due", due)
	line("Change token", theme.Presence(state.ChangeToken != ""))
	fmt.Println()

	webhookLast := theme.SubtleStyle.Render("never")
	if state.WebhookLastUsedAt != nil {
		webhookLast = state.WebhookLastUsedAt.UTC().Format(time.RFC3339)
	}

	line("Webhook secret", theme.Presence(state.InboundVerificationSecret != ""))
	line("Webhook last used", webhookLast)
	return nil
}
