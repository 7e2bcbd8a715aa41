package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/samber/lo"

	"github.com/joebot/botmaster/internal/config"
	"github.com/joebot/botmaster/internal/credential"
)

// RunStatus displays the current configuration and credential summary.
func RunStatus(cfg *config.Config) {
	cfgPath := config.ConfigPath()

	fmt.Println()
	fmt.Println(TitleStyle.Render(fmt.Sprintf("  %s botmaster Status", Logo)))
	fmt.Println()

	rows := []struct{ label, path string }{
		{"Config", cfgPath},
		{"Credentials", cfg.CredentialsPath()},
		{"Tenants", cfg.TenantsPath()},
		{"Plugins", cfg.SystemPluginsDir()},
		{"User plugins", cfg.UserPluginsDir()},
	}
	for _, r := range rows {
		fmt.Printf("  %-13s %s  %s\n", r.label, StatusBadge(fileExists(r.path)), DimStyle.Render(r.path))
	}
	fmt.Println()

	fmt.Printf("  %-13s %s\n", "Log level", cfg.Log.Level)
	fmt.Printf("  %-13s %s\n", "Defaults", fmt.Sprintf("prefix %q · cooldown %ds · %s",
		cfg.Defaults.Prefix, cfg.Defaults.CooldownSeconds, cfg.Defaults.CommandSourcePolicy))
	fmt.Println()

	fmt.Println("  " + BoldStyle.Render("Credentials"))
	for _, line := range CredentialSummary(cfg) {
		fmt.Println("    " + line)
	}
	fmt.Println()
}

// CredentialSummary describes the credential file without modifying it.
func CredentialSummary(cfg *config.Config) []string {
	path := cfg.CredentialsPath()
	if !fileExists(path) {
		return []string{StatusBadge(false) + "  " + DimStyle.Render("no credentials file, run: botmaster init")}
	}
	entries, err := credential.Load(path, CredentialDefaults(cfg))
	switch {
	case errors.Is(err, credential.ErrNoCredentials):
		return []string{WarnStyle.Render("!") + "  " + DimStyle.Render("credentials file is empty, add an entry to start a bot")}
	case err != nil:
		return []string{ErrStyle.Render("✗") + "  " + err.Error()}
	}

	byTenant := lo.GroupBy(entries, func(e credential.Entry) string { return e.TenantID })
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		token, _ := credential.Token(e.AuthState)
		lines = append(lines, fmt.Sprintf("%s  %-16s %s %s",
			StatusBadge(true),
			e.DisplayName,
			DimStyle.Render(fmt.Sprintf("tenant=%s token=%s", e.TenantID, credential.ShortToken(token))),
			DimStyle.Render(fmt.Sprintf("prefix=%q cooldown=%ds policy=%s", e.Prefix, e.Cooldown(), e.CommandSourcePolicy)),
		))
	}
	lines = append(lines, DimStyle.Render(fmt.Sprintf("%d credential(s) across %d tenant(s)", len(entries), len(byTenant))))
	return lines
}

// CredentialDefaults returns the entry defaults configured in cfg.
func CredentialDefaults(cfg *config.Config) credential.Defaults {
	return credential.Defaults{
		Prefix:          cfg.Defaults.Prefix,
		CooldownSeconds: cfg.Defaults.CooldownSeconds,
		CommandSource:   cfg.Defaults.CommandSourcePolicy,
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
