// Package tui implements the terminal front-end: transport, crossfader,
// sync and meters for the two decks.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/anthropics/deckmix/pkg/audio"
	"github.com/anthropics/deckmix/pkg/deck"
)

// Model is the main TUI model.
type Model struct {
	Engine *audio.Engine

	Width  int
	Height int

	snapshot  audio.Snapshot
	StatusMsg string
	syncOn    bool
}

// NewModel creates a TUI model over a started engine.
func NewModel(engine *audio.Engine) Model {
	return Model{Engine: engine, Width: 100, Height: 30}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tea.EnterAltScreen, tickCmd())
}

// tickMsg refreshes the telemetry display.
type tickMsg struct{}

func tickCmd() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(_ time.Time) tea.Msg {
		return tickMsg{}
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case tickMsg:
		m.snapshot = m.Engine.Telemetry()
		return m, tickCmd()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	mixer := m.Engine.Mixer()
	switch msg.String() {
	case "ctrl+c", "q":
		m.Engine.Close()
		return m, tea.Quit

	case "1":
		m.toggleDeck(m.Engine.DeckA())
	case "2":
		m.toggleDeck(m.Engine.DeckB())

	case "z":
		m.Engine.DeckA().Stop()
	case "x":
		m.Engine.DeckB().Stop()

	case "left":
		mixer.SetCrossfader(m.snapshot.Crossfader - 0.1)
	case "right":
		mixer.SetCrossfader(m.snapshot.Crossfader + 0.1)
	case "c":
		mixer.SetCrossfader(0)

	case "s":
		if m.syncOn {
			m.Engine.DisableSync()
			m.syncOn = false
			m.StatusMsg = "sync off"
		} else if err := m.Engine.EnableSync(m.Engine.DeckA(), m.Engine.DeckB()); err != nil {
			m.StatusMsg = "sync: " + err.Error()
		} else {
			if ratio, limited, err := m.Engine.DeckB().SyncTo(m.Engine.DeckA()); err == nil {
				m.StatusMsg = fmt.Sprintf("sync B→A ratio %.3f", ratio)
				if limited {
					m.StatusMsg += " (range limit)"
				}
			}
			m.syncOn = true
		}

	case "k":
		d := m.Engine.DeckB()
		d.SetKeyLock(!d.KeyLock())

	case "n":
		m.Engine.DeckB().SetNudge(1.04)
	case "m":
		m.Engine.DeckB().SetNudge(0.96)
	case "b":
		m.Engine.DeckB().SetNudge(1.0)

	case "-", "_":
		d := m.Engine.DeckB()
		d.SetTempo(d.TempoRatio() - 0.005)
	case "+", "=":
		d := m.Engine.DeckB()
		d.SetTempo(d.TempoRatio() + 0.005)
	}
	return m, nil
}

func (m *Model) toggleDeck(d *deck.Deck) {
	switch d.Status() {
	case deck.StatusPlaying:
		d.Pause()
	case deck.StatusReady, deck.StatusPaused:
		if err := d.Play(); err != nil {
			m.StatusMsg = err.Error()
		}
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n\n")
	b.WriteString(m.deckView("DECK A", m.snapshot.DeckA, m.snapshot.Peaks.DeckAL, m.snapshot.Peaks.DeckAR))
	b.WriteString("\n")
	b.WriteString(m.deckView("DECK B", m.snapshot.DeckB, m.snapshot.Peaks.DeckBL, m.snapshot.Peaks.DeckBR))
	b.WriteString("\n")
	b.WriteString(m.mixView())
	b.WriteString("\n")
	b.WriteString(m.footerView())
	return b.String()
}

func (m Model) headerView() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("14")).
		Render("DECKMIX")

	clock := fmt.Sprintf(" │ %s │ %d Hz │ block %d │ %.0f ms",
		formatTime(m.snapshot.Clock.AudioTimeSeconds()),
		m.snapshot.SampleRate, m.snapshot.BlockSize, m.snapshot.LatencyMS)

	sync := ""
	if m.snapshot.SyncEnabled {
		sync = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).
			Render(fmt.Sprintf(" │ SYNC %s phase %+.3f", m.snapshot.SyncQuality, m.snapshot.PhaseOffsetBeats))
	}
	return title + clock + sync
}

func (m Model) deckView(name string, d audio.DeckTelemetry, peakL, peakR float64) string {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	if d.Playing {
		style = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	}

	bpm := "—"
	if d.DetectedBPM > 0 {
		bpm = fmt.Sprintf("%.1f", d.DetectedBPM)
	}
	key := d.Camelot
	if key == "" {
		key = "—"
	}
	lock := " "
	if d.KeyLock {
		lock = "K"
	}

	head := fmt.Sprintf("%s [%s]%s %s", name, strings.ToUpper(d.Status), lock, d.TrackName)
	line := fmt.Sprintf("  %s / %s │ BPM %s │ KEY %s │ ratio %.4f │ %s%s",
		formatTime(d.PositionSeconds), formatTime(d.Duration),
		bpm, key, d.EffectiveRatio*d.SyncCorrection,
		meter(peakL), meter(peakR))
	if d.Underruns > 0 {
		line += fmt.Sprintf(" │ xruns %d", d.Underruns)
	}
	return style.Render(head) + "\n" + line
}

func (m Model) mixView() string {
	pos := int((m.snapshot.Crossfader + 1) / 2 * 20)
	fader := "A [" + strings.Repeat("─", pos) + "●" + strings.Repeat("─", 20-pos) + "] B"
	master := fmt.Sprintf("  master %s%s", meter(m.snapshot.Peaks.MasterL), meter(m.snapshot.Peaks.MasterR))
	return fader + master
}

func (m Model) footerView() string {
	keys := " [1/2]Play/Pause [Z/X]Stop [←→]Crossfade [C]Center [S]Sync [K]KeyLock [N/M/B]Nudge [+/-]Tempo [Q]Quit"
	footer := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(keys)
	if m.StatusMsg != "" {
		footer += lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("\n " + m.StatusMsg)
	}
	return footer
}

// meter renders a tiny bar for a peak level.
func meter(peak float64) string {
	const width = 8
	n := int(peak * width)
	if n > width {
		n = width
	}
	return " ▕" + strings.Repeat("█", n) + strings.Repeat(" ", width-n) + "▏"
}

func formatTime(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	m := int(sec) / 60
	s := int(sec) % 60
	return fmt.Sprintf("%02d:%02d", m, s)
}
