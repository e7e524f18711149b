package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/NikKowPHP/meetup/internal/models"
	"github.com/NikKowPHP/meetup/internal/service"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show the last recorded state of every source",
	RunE:  listSources,
}

var switchCmd = &cobra.Command{
	Use:   "switch <key|source> <on|off>",
	Short: "Turn the pipeline or a single source on or off",
	Example: `  meetupctl switch facebook off
  meetupctl switch feature.pipeline on`,
	Args: cobra.ExactArgs(2),
	RunE: setSwitch,
}

func listSources(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	states, err := (&service.SourceStateService{Repo: a.store}).List(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tHEALTH\tLAST SUCCESS\tACCEPTED\tDROPPED\tLAST ERROR")
	for _, s := range states {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			s.Name, s.HealthStatus, formatTime(s.LastSuccessAt), s.Accepted, s.Dropped, deref(s.LastError))
	}
	return w.Flush()
}

func setSwitch(cmd *cobra.Command, args []string) error {
	key, err := switchKey(args[0])
	if err != nil {
		return err
	}
	enabled, err := parseOnOff(args[1])
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	settings := &service.SystemSettingsService{Repo: a.store}
	if err := settings.EnsureDefaultSwitches(cmd.Context()); err != nil {
		return err
	}
	if err := settings.SetEnabled(cmd.Context(), key, enabled); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %t\n", key, enabled)
	return nil
}

// switchKey accepts either a full switch key or a bare source name.
func switchKey(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if service.IsKnownSwitch(raw) {
		return raw, nil
	}
	src, err := models.ParseSource(raw)
	if err != nil {
		return "", fmt.Errorf("unknown switch %q", raw)
	}
	return models.FeatureSourceKey(src), nil
}

func parseOnOff(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "true", "1", "enable", "enabled":
		return true, nil
	case "off", "false", "0", "disable", "disabled":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", raw)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
