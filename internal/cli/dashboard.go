package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"

	"github.com/joebot/botmaster/internal/credential"
	"github.com/joebot/botmaster/internal/plugin"
	"github.com/joebot/botmaster/internal/session"
)

// Orchestrator is what the dashboard drives.
type Orchestrator interface {
	ListAll() []*session.Session
	UpdateSessionConfig(tenantID, token string, patch session.Patch) (session.Config, error)
	RemoveSession(tenantID, token string) error
	ReloadPlugins(ctx context.Context) error
}

// --- message types ---

type tickMsg time.Time

type reloadDoneMsg struct{ err error }

// --- dashboard model ---

type dashboardModel struct {
	ctx    context.Context
	orch   Orchestrator
	table  table.Model
	prefix textinput.Model

	sessions []*session.Session
	editing  bool
	status   string
	width    int
}

var dashboardColumns = []table.Column{
	{Title: "Bot", Width: 18},
	{Title: "Tenant", Width: 14},
	{Title: "Token", Width: 12},
	{Title: "Uptime", Width: 16},
	{Title: "Prefix", Width: 6},
	{Title: "Cooldown", Width: 8},
	{Title: "Policy", Width: 7},
	{Title: "Events", Width: 7},
}

func newDashboardModel(ctx context.Context, orch Orchestrator) dashboardModel {
	t := table.New(
		table.WithColumns(dashboardColumns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(Accent)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("#000000")).Background(Accent)
	t.SetStyles(styles)

	ti := textinput.New()
	ti.Prompt = "prefix ❯ "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(Accent)
	ti.CharLimit = 16

	m := dashboardModel{ctx: ctx, orch: orch, table: t, prefix: ti}
	m.refresh()
	return m
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m dashboardModel) Init() tea.Cmd { return tick() }

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		h := msg.Height - 8
		if h < 3 {
			h = 3
		}
		m.table.SetHeight(h)
		return m, nil

	case tickMsg:
		if m.ctx.Err() != nil {
			return m, tea.Quit
		}
		m.refresh()
		return m, tick()

	case reloadDoneMsg:
		if msg.err != nil {
			m.status = ErrStyle.Render("reload failed: " + firstLine(msg.err.Error()))
		} else {
			m.status = OkStyle.Render("✓") + " plugins reloaded"
		}
		return m, nil

	case tea.KeyMsg:
		if m.editing {
			return m.updatePrefixInput(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "p":
			m.patchSelected(func(s *session.Session) session.Patch {
				next := s.Config().Policy.Next()
				return session.Patch{Policy: &next}
			})
			return m, nil
		case "+", "=":
			m.patchSelected(func(s *session.Session) session.Patch {
				cd := s.Config().CooldownSeconds + 1
				return session.Patch{CooldownSeconds: &cd}
			})
			return m, nil
		case "-", "_":
			m.patchSelected(func(s *session.Session) session.Patch {
				cd := max(s.Config().CooldownSeconds-1, 0)
				return session.Patch{CooldownSeconds: &cd}
			})
			return m, nil
		case "e":
			if s := m.selected(); s != nil {
				m.editing = true
				m.prefix.SetValue(s.Config().Prefix)
				m.prefix.CursorEnd()
				return m, m.prefix.Focus()
			}
			return m, nil
		case "x", "delete":
			if s := m.selected(); s != nil {
				if err := m.orch.RemoveSession(s.Tenant, s.Token); err != nil {
					m.status = ErrStyle.Render(err.Error())
				} else {
					m.status = OkStyle.Render("✓") + " removed " + s.DisplayName
				}
				m.refresh()
			}
			return m, nil
		case "r":
			m.status = DimStyle.Render("reloading plugins...")
			return m, m.reload()
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m dashboardModel) updatePrefixInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.editing = false
		m.prefix.Blur()
		return m, nil
	case tea.KeyEnter:
		m.editing = false
		m.prefix.Blur()
		value := m.prefix.Value()
		m.patchSelected(func(*session.Session) session.Patch {
			return session.Patch{Prefix: &value}
		})
		return m, nil
	}
	var cmd tea.Cmd
	m.prefix, cmd = m.prefix.Update(msg)
	return m, cmd
}

func (m dashboardModel) reload() tea.Cmd {
	return func() tea.Msg {
		return reloadDoneMsg{err: m.orch.ReloadPlugins(m.ctx)}
	}
}

func (m *dashboardModel) selected() *session.Session {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.sessions) {
		return nil
	}
	return m.sessions[i]
}

func (m *dashboardModel) patchSelected(build func(*session.Session) session.Patch) {
	s := m.selected()
	if s == nil {
		return
	}
	cfg, err := m.orch.UpdateSessionConfig(s.Tenant, s.Token, build(s))
	if err != nil {
		m.status = ErrStyle.Render(err.Error())
	} else {
		m.status = OkStyle.Render("✓") + fmt.Sprintf(" %s: prefix %q · cooldown %ds · %s", s.DisplayName, cfg.Prefix, cfg.CooldownSeconds, cfg.Policy)
	}
	m.refresh()
}

func (m *dashboardModel) refresh() {
	m.sessions = m.orch.ListAll()
	m.table.SetRows(SessionRows(m.sessions))
	if c := m.table.Cursor(); c >= len(m.sessions) && len(m.sessions) > 0 {
		m.table.SetCursor(len(m.sessions) - 1)
	}
}

// SessionRows renders sessions as dashboard table rows.
func SessionRows(sessions []*session.Session) []table.Row {
	return lo.Map(sessions, func(s *session.Session, _ int) table.Row {
		cfg := s.Config()
		return table.Row{
			s.DisplayName,
			s.Tenant,
			credential.ShortToken(s.Token),
			plugin.FormatUptime(s.Uptime()),
			cfg.Prefix,
			strconv.Itoa(cfg.CooldownSeconds) + "s",
			string(cfg.Policy),
			strconv.FormatInt(s.Handled(), 10),
		}
	})
}

func (m dashboardModel) View() string {
	online := lo.CountBy(m.sessions, func(s *session.Session) bool { return s.State() == session.StateListening })

	var sb strings.Builder
	sb.WriteString(TitleStyle.Render(fmt.Sprintf(" %s botmaster", Logo)))
	sb.WriteString(DimStyle.Render(fmt.Sprintf("  %d sessions · %d online", len(m.sessions), online)))
	sb.WriteString("\n\n")
	sb.WriteString(m.table.View())
	sb.WriteString("\n\n")
	if m.editing {
		sb.WriteString(" " + m.prefix.View() + DimStyle.Render("  enter apply · esc cancel"))
	} else {
		sb.WriteString(" " + m.status)
	}
	sb.WriteString("\n")
	sb.WriteString(DimStyle.Render(" ↑/↓ select · p policy · +/- cooldown · e prefix · x remove · r reload · q quit"))
	sb.WriteString("\n")
	return sb.String()
}

// RunDashboard shows the live session table until the user quits or ctx ends.
func RunDashboard(ctx context.Context, orch Orchestrator) error {
	p := tea.NewProgram(newDashboardModel(ctx, orch), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
