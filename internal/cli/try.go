package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joebot/botmaster/internal/bus"
	"github.com/joebot/botmaster/internal/credential"
	"github.com/joebot/botmaster/internal/session"
	"github.com/joebot/botmaster/internal/transport"
)

const tryToken = "botmaster-try"

func tryAuthState() json.RawMessage {
	return json.RawMessage(`{"token":"` + tryToken + `"}`)
}

// TrySpec builds the session spec used by try. Settings come from the
// tenant's first credential entry when there is one, else the defaults.
func TrySpec(rt *Runtime, tenantID string) session.Spec {
	d := CredentialDefaults(rt.Config)
	entry := credential.Entry{TenantID: tenantID}
	path := rt.Config.CredentialsPath()
	if !fileExists(path) {
		entry.ApplyDefaults(d)
		entry.AuthState = tryAuthState()
		spec, _ := session.SpecFromEntry(entry)
		return spec
	}
	if entries, err := credential.Load(path, d); err == nil {
		for _, e := range entries {
			if e.TenantID == tenantID {
				entry = e
				break
			}
		}
	}
	entry.ApplyDefaults(d)
	entry.AuthState = tryAuthState()

	spec, err := session.SpecFromEntry(entry)
	if err != nil {
		spec = session.Spec{Tenant: tenantID, AuthState: entry.AuthState, DisplayName: entry.DisplayName}
	}
	return spec
}

// Try runs text through a session on an in-memory transport and returns
// the replies it produced. spec's authState is replaced.
func Try(ctx context.Context, rt *Runtime, mem *transport.Memory, spec session.Spec, text string) ([]*bus.Reply, error) {
	spec.AuthState = tryAuthState()
	if err := rt.Orch.Init(ctx); err != nil {
		return nil, err
	}
	defer rt.Orch.Shutdown(context.Background())

	s, err := rt.Orch.StartSession(ctx, spec)
	if err != nil {
		return nil, err
	}
	conn := mem.Conn(tryToken)
	if conn == nil {
		return nil, errors.New("memory transport has no connection")
	}

	err = conn.Push(ctx, &bus.Event{
		Type:     bus.TypeMessage,
		ThreadID: "try",
		SenderID: "cli",
		Body:     text,
	})
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for s.Handled() < 1 {
		select {
		case <-ctx.Done():
			return conn.Sent(), ctx.Err()
		case <-s.Done():
			return conn.Sent(), errors.New("session ended before the message was handled")
		case <-ticker.C:
		}
	}
	return conn.Sent(), nil
}

// --- try spinner model ---

type tryResultMsg struct {
	replies []*bus.Reply
	err     error
}

type tryModel struct {
	spinner spinner.Model
	run     func() ([]*bus.Reply, error)
	replies []*bus.Reply
	err     error
	done    bool
}

func (m tryModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		func() tea.Msg {
			replies, err := m.run()
			return tryResultMsg{replies: replies, err: err}
		},
	)
}

func (m tryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	case tryResultMsg:
		m.replies = msg.replies
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m tryModel) View() string {
	if m.done {
		return ""
	}
	return fmt.Sprintf("\n %s Dispatching...\n", m.spinner.View())
}

// RunTry dispatches one message with a spinner, then prints the replies.
func RunTry(ctx context.Context, rt *Runtime, mem *transport.Memory, tenantID, text string) error {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(Accent)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	spec := TrySpec(rt, tenantID)
	m := tryModel{
		spinner: sp,
		run:     func() ([]*bus.Reply, error) { return Try(ctx, rt, mem, spec, text) },
	}

	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return err
	}

	fm := final.(tryModel)
	if fm.err != nil {
		fmt.Println(ErrStyle.Render("\n  Error: " + fm.err.Error()))
		return fm.err
	}

	fmt.Println()
	fmt.Println("  " + UserLabel.Render(tenantID) + DimStyle.Render(fmt.Sprintf("  prefix %q · %s", spec.Config.Prefix, spec.Config.Policy)))
	fmt.Println("  " + text)
	fmt.Println()
	fmt.Println("  " + BotLabel.Render(spec.DisplayName))
	if len(fm.replies) == 0 {
		fmt.Println("  " + DimStyle.Render("(no reply)"))
	}
	for _, r := range fm.replies {
		for _, line := range strings.Split(r.Content, "\n") {
			fmt.Println("  " + line)
		}
	}
	fmt.Println()
	return nil
}
