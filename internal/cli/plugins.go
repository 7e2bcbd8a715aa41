package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/joebot/botmaster/internal/plugin"
)

// WritePluginTable renders the commands a tenant would see under the
// "both" policy, followed by the event plugin subscriptions. An empty
// tenant lists system commands only.
func WritePluginTable(w io.Writer, reg *plugin.Registry, tenantID string) {
	commands := reg.Resolve(tenantID, plugin.PolicySystem)
	if tenantID != "" {
		commands = reg.Resolve(tenantID, plugin.PolicyBoth)
	}

	table := newTable(w, []string{"Command", "Source", "Description"})
	for _, name := range commands.Names() {
		c := commands[name]
		table.Append([]string{name, string(c.Source), c.Description})
	}
	table.Render()

	types := reg.EventTypes()
	if len(types) == 0 {
		return
	}
	fmt.Fprintln(w)
	events := newTable(w, []string{"Event type", "Plugins"})
	for _, t := range types {
		names := lo.Map(reg.EventPlugins(t), func(p *plugin.EventPlugin, _ int) string { return p.Name })
		events.Append([]string{t, strings.Join(names, ", ")})
	}
	events.Render()
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

// RunPlugins loads plugins and prints them for tenantID.
func RunPlugins(ctx context.Context, rt *Runtime, w io.Writer, tenantID string) error {
	if err := rt.Plugins.LoadSystemPlugins(ctx); err != nil {
		return err
	}
	title := "System plugins"
	if tenantID != "" {
		if err := rt.Plugins.LoadTenantPlugins(ctx, tenantID); err != nil {
			return err
		}
		title = "Plugins for " + tenantID
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("  %s %s", Logo, title)))
	fmt.Fprintln(w)
	WritePluginTable(w, rt.Plugins, tenantID)
	fmt.Fprintln(w)
	return nil
}
