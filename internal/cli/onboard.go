package cli

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joebot/botmaster/internal/config"
	"github.com/joebot/botmaster/internal/credential"
)

// --- onboard selection model ---

type onboardChoice int

const (
	choiceUpgrade onboardChoice = iota
	choiceOverwrite
	choiceSkip
)

type onboardModel struct {
	choices []string
	cursor  int
	chosen  bool
	choice  onboardChoice
}

func (m onboardModel) Init() tea.Cmd { return nil }

func (m onboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.choice = choiceSkip
			m.chosen = true
			return m, tea.Quit
		case tea.KeyUp, tea.KeyShiftTab:
			if m.cursor > 0 {
				m.cursor--
			}
		case tea.KeyDown, tea.KeyTab:
			if m.cursor < len(m.choices)-1 {
				m.cursor++
			}
		case tea.KeyEnter:
			m.choice = onboardChoice(m.cursor)
			m.chosen = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m onboardModel) View() string {
	if m.chosen {
		return ""
	}

	s := "\n"
	s += fmt.Sprintf("  Config already exists at %s\n\n", DimStyle.Render(config.ConfigPath()))

	for i, choice := range m.choices {
		cursor := "  "
		if i == m.cursor {
			cursor = BotLabel.Render("❯ ")
		}
		s += "  " + cursor + choice + "\n"
	}

	s += "\n" + DimStyle.Render("  ↑/↓ navigate · enter select · ctrl+c cancel") + "\n"
	return s
}

// examplePlugin is written to the system plugin directory by init.
const examplePlugin = `# Declarative command plugin. Reply is a Go text/template with
# .Args .Sender .Body .Tenant .Bot .Prefix .Thread available.
name: echo
description: Repeat the arguments back
reply: "{{ if .Args }}{{ join .Args \" \" }}{{ else }}usage: {{ .Prefix }}echo <text>{{ end }}"
`

// RunOnboard runs the init wizard: config, directories, placeholder
// credential and tenant files, and an example plugin.
func RunOnboard() {
	cfgPath := config.ConfigPath()
	var cfg *config.Config

	fmt.Println()
	fmt.Println(TitleStyle.Render(fmt.Sprintf("  %s botmaster Init", Logo)))

	if _, err := os.Stat(cfgPath); err == nil {
		// Config exists, ask what to do
		m := onboardModel{
			choices: []string{
				"Upgrade: add new fields, keep existing values",
				"Overwrite: replace with fresh defaults",
				"Skip: do not modify config",
			},
		}
		p := tea.NewProgram(m)
		final, err := p.Run()
		if err != nil {
			fail(err)
		}
		fm := final.(onboardModel)

		fmt.Println()
		switch fm.choice {
		case choiceUpgrade:
			upgraded, err := config.Upgrade()
			if err != nil {
				fail(err)
			}
			cfg = upgraded
			fmt.Println("  " + OkStyle.Render("✓") + " Upgraded config")
		case choiceOverwrite:
			cfg = config.DefaultConfig()
			if err := config.Save(cfg); err != nil {
				fail(err)
			}
			fmt.Println("  " + OkStyle.Render("✓") + " Overwritten config")
		default:
			fmt.Println("  " + DimStyle.Render("Config unchanged"))
			loaded, err := config.Load()
			if err != nil {
				fail(err)
			}
			cfg = loaded
		}
	} else {
		cfg = config.DefaultConfig()
		if err := config.Save(cfg); err != nil {
			fail(err)
		}
		fmt.Println()
		fmt.Println("  " + OkStyle.Render("✓") + " Created config at " + DimStyle.Render(cfgPath))
	}

	created, err := Scaffold(cfg)
	if err != nil {
		fail(err)
	}
	for _, path := range created {
		fmt.Println("    " + DimStyle.Render("created "+path))
	}

	fmt.Println()
	fmt.Println(OkStyle.Render("  botmaster is ready!"))
	fmt.Println()
	fmt.Println(DimStyle.Render("  Next steps:"))
	fmt.Println(DimStyle.Render(`  1. Add a bot to ` + cfg.CredentialsPath() + `: [{"tenantId": "me", "authState": {"token": "..."}}]`))
	fmt.Println(DimStyle.Render(`  2. Try a command offline: botmaster try me "/help"`))
	fmt.Println(DimStyle.Render("  3. Start: botmaster run --dashboard"))
	fmt.Println()
}

// Scaffold creates the data directories and any missing placeholder files.
// Existing files are never touched. It returns the paths it created.
func Scaffold(cfg *config.Config) ([]string, error) {
	for _, dir := range []string{cfg.SystemPluginsDir(), cfg.UserPluginsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	var created []string
	if !fileExists(cfg.CredentialsPath()) {
		if err := credential.WritePlaceholder(cfg.CredentialsPath()); err != nil {
			return created, fmt.Errorf("write credentials placeholder: %w", err)
		}
		created = append(created, cfg.CredentialsPath())
	}

	files := []struct {
		path    string
		content string
	}{
		{cfg.TenantsPath(), "{}\n"},
		{filepath.Join(cfg.SystemPluginsDir(), "echo.yaml"), examplePlugin},
	}
	for _, f := range files {
		if fileExists(f.path) {
			continue
		}
		if err := os.WriteFile(f.path, []byte(f.content), 0o644); err != nil {
			return created, fmt.Errorf("write %s: %w", f.path, err)
		}
		created = append(created, f.path)
	}
	return created, nil
}

func fail(err error) {
	fmt.Println("  " + ErrStyle.Render("Error: "+err.Error()))
	os.Exit(1)
}
