package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"calmirror/internal/config"
	"calmirror/internal/store"
	"calmirror/internal/ui/mappings"
)

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "Browse the persisted task-to-event mappings",
	Args:  cobra.NoArgs,
	RunE:  runMappings,
}

func init() {
	rootCmd.AddCommand(mappingsCmd)
}

// runMappings only reads the local database, so it loads the configuration
// without validating workspace or calendar credentials.
func runMappings(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	p := tea.NewProgram(mappings.New(st), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(mappings.Model); ok {
		return m.Err()
	}
	return nil
}
