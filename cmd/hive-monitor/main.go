// hive-monitor is a terminal dashboard over one or more gie clones. It polls
// each clone's stats endpoint and renders knowledge versions, decision
// throughput and per-engine performance side by side, which makes divergence
// between clones visible at a glance.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/albertklubabot-sketch/gie20/internal/hive"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

type tickMsg time.Time

type statsMsg struct {
	clone string
	stats *hive.StatsResponse
	err   error
}

type cloneView struct {
	addr  string
	stats *hive.StatsResponse
	err   error
}

type model struct {
	clones   []*cloneView
	clients  []*hive.Client
	interval time.Duration
}

func initialModel(addrs []string, interval time.Duration) model {
	m := model{interval: interval}
	for _, addr := range addrs {
		m.clones = append(m.clones, &cloneView{addr: addr})
		m.clients = append(m.clients, hive.NewClient(addr))
	}
	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.tick()}
	for i := range m.clients {
		cmds = append(cmds, m.fetch(i))
	}
	return tea.Batch(cmds...)
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) fetch(i int) tea.Cmd {
	client := m.clients[i]
	addr := m.clones[i].addr
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		stats, err := client.FetchStats(ctx)
		return statsMsg{clone: addr, stats: stats, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case tickMsg:
		cmds := []tea.Cmd{m.tick()}
		for i := range m.clients {
			cmds = append(cmds, m.fetch(i))
		}
		return m, tea.Batch(cmds...)

	case statsMsg:
		for _, cv := range m.clones {
			if cv.addr == msg.clone {
				cv.stats, cv.err = msg.stats, msg.err
			}
		}
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("GIE HIVE MONITOR"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %d clones, refresh %s, q to quit", len(m.clones), m.interval)))
	b.WriteString("\n\n")

	var panels []string
	for _, cv := range m.clones {
		panels = append(panels, borderStyle.Render(renderClone(cv)))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, panels...))
	b.WriteString("\n")
	return b.String()
}

func renderClone(cv *cloneView) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(cv.addr))
	b.WriteString("\n")

	if cv.err != nil {
		b.WriteString(errStyle.Render("unreachable"))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(truncate(cv.err.Error(), 48)))
		return b.String()
	}
	if cv.stats == nil {
		b.WriteString(dimStyle.Render("waiting for first poll"))
		return b.String()
	}

	s := cv.stats
	b.WriteString(fmt.Sprintf("instance  %s\n", truncate(s.Instance, 20)))
	b.WriteString(fmt.Sprintf("pending   %d\n", s.Pending))
	b.WriteString(fmt.Sprintf("resolved  %s\n", okStyle.Render(fmt.Sprintf("%d", s.Resolved))))
	b.WriteString(fmt.Sprintf("log seq   %d\n", s.LastSeq))

	if len(s.Versions) > 0 {
		b.WriteString(titleStyle.Render("\nknowledge\n"))
		ids := make([]string, 0, len(s.Versions))
		for id := range s.Versions {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			b.WriteString(fmt.Sprintf("  %-12s v%d\n", id, s.Versions[id]))
		}
	}

	if len(s.ByEngine) > 0 {
		b.WriteString(titleStyle.Render("\nengines\n"))
		for _, es := range s.ByEngine {
			reward := okStyle
			if es.AvgReward < 0 {
				reward = errStyle
			}
			b.WriteString(fmt.Sprintf("  %-12s sel=%-4d res=%-4d avg=%s\n",
				es.EngineID, es.Selected, es.Resolved,
				reward.Render(fmt.Sprintf("%+.3f", es.AvgReward))))
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func main() {
	clones := flag.String("clones", "http://127.0.0.1:7531", "comma separated clone base URLs")
	interval := flag.Duration("interval", 2*time.Second, "poll interval")
	flag.Parse()

	var addrs []string
	for _, a := range strings.Split(*clones, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		fmt.Fprintln(os.Stderr, "no clone addresses given")
		os.Exit(1)
	}

	p := tea.NewProgram(initialModel(addrs, *interval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}
