// Package tui provides a Bubble Tea terminal user interface for the download
// manager. The UI only renders the controller's cache and forwards user
// actions to its workflows.
package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/handiism/download-manager/internal/controller"
	"github.com/handiism/download-manager/internal/model"
)

const (
	noticeLines = 5
	rowHeight   = 2
)

// Mode is the part of the UI that receives key presses.
type Mode int

const (
	ModeBrowse Mode = iota
	ModeInput
	ModeSearch
	ModeConflict
	ModeSaveAs
	ModeRemoval
	ModeSettings
	ModeEditSetting
)

type settingField struct {
	label string
	value func(controller.EngineSettings) string
	apply func(*controller.Controller, string) (tea.Cmd, error)
}

var settingFields = []settingField{
	{
		label: "Download directory",
		value: func(s controller.EngineSettings) string { return s.DownloadDir },
		apply: func(c *controller.Controller, v string) (tea.Cmd, error) {
			return c.SetDownloadDir(v), nil
		},
	},
	{
		label: "Max concurrent downloads",
		value: func(s controller.EngineSettings) string { return strconv.Itoa(s.MaxConcurrentDownloads) },
		apply: func(c *controller.Controller, v string) (tea.Cmd, error) {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil || n < 1 {
				return nil, fmt.Errorf("max concurrent downloads must be a number of at least 1")
			}
			return c.SetMaxConcurrentDownloads(n), nil
		},
	},
	{
		label: "Max retries",
		value: func(s controller.EngineSettings) string { return strconv.Itoa(s.MaxRetries) },
		apply: func(c *controller.Controller, v string) (tea.Cmd, error) {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("max retries must be a number of at least 0")
			}
			return c.SetMaxRetries(n), nil
		},
	},
	{
		label: "Speed limit (KB/s, 0 = unlimited)",
		value: func(s controller.EngineSettings) string {
			if kbps, ok := s.SpeedLimit.KBps(); ok {
				return strconv.FormatFloat(kbps, 'f', -1, 64)
			}
			return "0"
		},
		apply: func(c *controller.Controller, v string) (tea.Cmd, error) {
			kbps, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil || kbps < 0 {
				return nil, fmt.Errorf("speed limit must be a non-negative number")
			}
			return c.SetSpeedLimit(kbps), nil
		},
	},
}

// Model is the Bubble Tea model for the TUI.
type Model struct {
	ctl  *controller.Controller
	mode Mode
	keys keyMap

	urlInput     textinput.Model
	searchInput  textinput.Model
	saveAsInput  textinput.Model
	settingInput textinput.Model

	spinner  spinner.Model
	progress progress.Model
	viewport viewport.Model
	help     help.Model

	cursor     int
	settingIdx int
	inputErr   string

	width  int
	height int
}

// NewModel creates a TUI model driving ctl.
func NewModel(ctl *controller.Controller) Model {
	ti := textinput.New()
	ti.Placeholder = "https://example.com/file.zip"
	ti.CharLimit = 2000
	ti.Width = 60

	search := textinput.New()
	search.Placeholder = "filter by name"
	search.Prompt = "/ "
	search.Width = 40

	saveAs := textinput.New()
	saveAs.Prompt = "Save as: "
	saveAs.Width = 50

	setting := textinput.New()
	setting.Width = 50

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 30

	return Model{
		ctl:          ctl,
		keys:         defaultKeyMap(),
		urlInput:     ti,
		searchInput:  search,
		saveAsInput:  saveAs,
		settingInput: setting,
		spinner:      sp,
		progress:     prog,
		viewport:     viewport.New(80, 12),
		help:         help.New(),
	}
}

// Mode returns the part of the UI that currently receives keys.
func (m Model) Mode() Mode {
	return m.mode
}

// Init starts the controller and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.ctl.Init(), m.spinner.Tick)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = min(max(msg.Width/3, 20), 60)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-18, 4)
		m.help.Width = msg.Width

	case tea.KeyMsg:
		cmds = append(cmds, m.handleKey(msg))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	default:
		cmds = append(cmds, m.ctl.Update(msg))
		if input := m.focusedInput(); input != nil {
			var cmd tea.Cmd
			*input, cmd = input.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	m.sync()
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if msg.String() == "ctrl+c" {
		m.ctl.Stop()
		return tea.Quit
	}

	switch m.mode {
	case ModeInput:
		return m.handleInputKey(msg)
	case ModeSearch:
		return m.handleSearchKey(msg)
	case ModeConflict:
		return m.handleConflictKey(msg)
	case ModeSaveAs:
		return m.handleSaveAsKey(msg)
	case ModeRemoval:
		return m.handleRemovalKey(msg)
	case ModeSettings:
		return m.handleSettingsKey(msg)
	case ModeEditSetting:
		return m.handleEditSettingKey(msg)
	}
	return m.handleBrowseKey(msg)
}

func (m *Model) handleBrowseKey(msg tea.KeyMsg) tea.Cmd {
	selected, hasSelection := m.selected()

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.ctl.Stop()
		return tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		m.cursor++

	case key.Matches(msg, m.keys.Add):
		m.mode = ModeInput
		m.urlInput.SetValue(m.ctl.URL())
		m.urlInput.CursorEnd()
		return m.urlInput.Focus()

	case key.Matches(msg, m.keys.Search):
		m.mode = ModeSearch
		return m.searchInput.Focus()

	case key.Matches(msg, m.keys.Settings):
		m.mode = ModeSettings
		m.settingIdx = 0
		return m.ctl.LoadSettings()

	case key.Matches(msg, m.keys.Refresh):
		return m.ctl.Refresh()

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll

	case key.Matches(msg, m.keys.Pause):
		if !hasSelection {
			return nil
		}
		switch selected.Status.Kind {
		case model.KindDownloading, model.KindQueued:
			return m.ctl.Pause(selected.ID)
		case model.KindPaused, model.KindFailed:
			return m.ctl.ResumeDownload(selected.ID)
		}

	case key.Matches(msg, m.keys.Remove):
		if hasSelection && m.ctl.RequestRemoval(selected.ID) {
			m.mode = ModeRemoval
		}

	case key.Matches(msg, m.keys.Dequeue):
		if hasSelection {
			return m.ctl.Dequeue(selected.ID)
		}
	}
	return nil
}

func (m *Model) handleInputKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEnter:
		m.ctl.SetURL(m.urlInput.Value())
		m.urlInput.Blur()
		m.mode = ModeBrowse
		return m.ctl.Submit()
	case tea.KeyEsc:
		m.ctl.SetURL(m.urlInput.Value())
		m.urlInput.Blur()
		m.mode = ModeBrowse
		return nil
	}

	var cmd tea.Cmd
	m.urlInput, cmd = m.urlInput.Update(msg)
	m.ctl.SetURL(m.urlInput.Value())
	return cmd
}

func (m *Model) handleSearchKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEnter:
		m.searchInput.Blur()
		m.mode = ModeBrowse
		return nil
	case tea.KeyEsc:
		m.searchInput.SetValue("")
		m.searchInput.Blur()
		m.mode = ModeBrowse
		return nil
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	m.cursor = 0
	return cmd
}

func (m *Model) handleConflictKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "o":
		return m.ctl.Resolve(controller.ResolveOverwrite, "")
	case "r":
		return m.ctl.Resolve(controller.ResolveResume, "")
	case "s":
		prompt, _ := m.ctl.Prompt()
		m.mode = ModeSaveAs
		m.inputErr = ""
		m.saveAsInput.SetValue(prompt.SuggestedName)
		m.saveAsInput.CursorEnd()
		return m.saveAsInput.Focus()
	case "c", "esc":
		return m.ctl.Resolve(controller.ResolveCancel, "")
	}
	return nil
}

func (m *Model) handleSaveAsKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEnter:
		name := m.saveAsInput.Value()
		if !controller.CanSaveAs(name) {
			m.inputErr = "file name cannot be empty"
			return nil
		}
		m.inputErr = ""
		m.saveAsInput.Blur()
		return m.ctl.Resolve(controller.ResolveSaveAs, name)
	case tea.KeyEsc:
		m.inputErr = ""
		m.saveAsInput.Blur()
		m.mode = ModeConflict
		return nil
	}

	var cmd tea.Cmd
	m.saveAsInput, cmd = m.saveAsInput.Update(msg)
	return cmd
}

func (m *Model) handleRemovalKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "y", "enter":
		m.mode = ModeBrowse
		return m.ctl.ConfirmRemoval()
	case "d":
		m.ctl.ToggleRemoveFromDisk()
	case "n", "esc":
		m.ctl.AbortRemoval()
		m.mode = ModeBrowse
	}
	return nil
}

func (m *Model) handleSettingsKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.settingIdx > 0 {
			m.settingIdx--
		}
	case key.Matches(msg, m.keys.Down):
		if m.settingIdx < len(settingFields)-1 {
			m.settingIdx++
		}
	case msg.Type == tea.KeyEnter:
		settings, ok := m.ctl.Settings()
		if !ok {
			return nil
		}
		m.mode = ModeEditSetting
		m.inputErr = ""
		m.settingInput.Prompt = settingFields[m.settingIdx].label + ": "
		m.settingInput.SetValue(settingFields[m.settingIdx].value(settings))
		m.settingInput.CursorEnd()
		return m.settingInput.Focus()
	case msg.Type == tea.KeyEsc, msg.String() == "s", msg.String() == "q":
		m.mode = ModeBrowse
	}
	return nil
}

func (m *Model) handleEditSettingKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEnter:
		cmd, err := settingFields[m.settingIdx].apply(m.ctl, m.settingInput.Value())
		if err != nil {
			m.inputErr = err.Error()
			return nil
		}
		m.inputErr = ""
		m.settingInput.Blur()
		m.mode = ModeSettings
		return cmd
	case tea.KeyEsc:
		m.inputErr = ""
		m.settingInput.Blur()
		m.mode = ModeSettings
		return nil
	}

	var cmd tea.Cmd
	m.settingInput, cmd = m.settingInput.Update(msg)
	return cmd
}

func (m *Model) focusedInput() *textinput.Model {
	switch m.mode {
	case ModeInput:
		return &m.urlInput
	case ModeSearch:
		return &m.searchInput
	case ModeSaveAs:
		return &m.saveAsInput
	case ModeEditSetting:
		return &m.settingInput
	}
	return nil
}

// sync aligns the UI mode and inputs with the controller's workflows.
func (m *Model) sync() {
	_, prompting := m.ctl.Prompt()
	switch {
	case prompting && m.mode != ModeConflict && m.mode != ModeSaveAs:
		m.urlInput.Blur()
		m.mode = ModeConflict
	case !prompting && (m.mode == ModeConflict || m.mode == ModeSaveAs):
		m.saveAsInput.Blur()
		m.mode = ModeBrowse
	}
	if _, pending := m.ctl.PendingRemoval(); !pending && m.mode == ModeRemoval {
		m.mode = ModeBrowse
	}
	if m.mode != ModeInput {
		m.urlInput.SetValue(m.ctl.URL())
	}

	visible := m.visible()
	m.cursor = min(m.cursor, len(visible)-1)
	m.cursor = max(m.cursor, 0)
	m.renderList(visible)
}

func (m Model) visible() []model.Download {
	return m.ctl.Filter(m.searchInput.Value())
}

func (m Model) selected() (model.Download, bool) {
	visible := m.visible()
	if m.cursor < 0 || m.cursor >= len(visible) {
		return model.Download{}, false
	}
	return visible[m.cursor], true
}

func (m *Model) renderList(visible []model.Download) {
	if len(visible) == 0 {
		text := "No downloads yet. Press a to add one."
		if m.searchInput.Value() != "" {
			text = "Nothing matches the filter."
		}
		m.viewport.SetContent(dimStyle.Italic(true).Render(text))
		m.viewport.SetYOffset(0)
		return
	}

	rows := make([]string, len(visible))
	for i, d := range visible {
		rows[i] = m.renderRow(d, i == m.cursor)
	}
	m.viewport.SetContent(strings.Join(rows, "\n"))

	top := m.cursor * rowHeight
	if top < m.viewport.YOffset {
		m.viewport.SetYOffset(top)
	} else if bottom := top + rowHeight; bottom > m.viewport.YOffset+m.viewport.Height {
		m.viewport.SetYOffset(bottom - m.viewport.Height)
	}
}

func (m Model) renderRow(d model.Download, selected bool) string {
	marker := "  "
	name := nameStyle.Render(d.DisplayName())
	if selected {
		marker = selectedStyle.Render("▸ ")
		name = selectedStyle.Render(d.DisplayName())
	}

	status := m.renderStatus(d)
	line1 := marker + name + "  " + status

	stats := []string{fmt.Sprintf("%5.1f%%", d.Progress)}
	if d.TotalBytes > 0 {
		stats = append(stats, humanize.IBytes(d.DownloadedBytes)+" / "+humanize.IBytes(d.TotalBytes))
	} else if d.DownloadedBytes > 0 {
		stats = append(stats, humanize.IBytes(d.DownloadedBytes))
	}
	if d.Status.Kind == model.KindDownloading {
		stats = append(stats, humanize.IBytes(uint64(d.SpeedKbps*1024))+"/s")
		if d.ETASeconds > 0 {
			stats = append(stats, "ETA "+(time.Duration(d.ETASeconds)*time.Second).String())
		}
	}
	line2 := "  " + m.progress.ViewAs(d.Progress/100) + " " + infoStyle.Render(strings.Join(stats, " • "))

	return line1 + "\n" + line2
}

func (m Model) renderStatus(d model.Download) string {
	switch d.Status.Kind {
	case model.KindDownloading:
		return m.spinner.View() + " " + subtitleStyle.Render("downloading")
	case model.KindQueued:
		if pos, ok := m.ctl.Position(d.ID); ok {
			return warningStyle.Render(fmt.Sprintf("queued #%d", pos))
		}
		return warningStyle.Render("queued")
	case model.KindPaused:
		return dimStyle.Render("paused")
	case model.KindCompleted:
		return successStyle.Render("✓ completed")
	case model.KindFailed:
		return errorStyle.Render("✗ failed: " + d.Status.Reason)
	}
	return d.Status.String()
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("⇣ Download Manager"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.summary()))
	b.WriteString("\n\n")

	b.WriteString(m.viewInput())
	b.WriteString("\n")

	switch m.mode {
	case ModeConflict, ModeSaveAs:
		b.WriteString(m.viewConflict())
		b.WriteString("\n")
	case ModeRemoval:
		b.WriteString(m.viewRemoval())
		b.WriteString("\n")
	case ModeSettings, ModeEditSetting:
		b.WriteString(m.viewSettings())
		b.WriteString("\n")
	}

	if m.mode == ModeSearch || m.searchInput.Value() != "" {
		b.WriteString(m.searchInput.View())
		b.WriteString("\n")
	}
	b.WriteString(m.viewport.View())
	b.WriteString("\n\n")

	b.WriteString(m.renderNotices())
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))

	return b.String()
}

func (m Model) summary() string {
	cache := m.ctl.Cache()
	if !cache.Loaded() {
		return "connecting to engine..."
	}
	return fmt.Sprintf("%d downloads • %d queued • speed limit: %s",
		len(cache.Downloads()), len(cache.Queue()), cache.SpeedLimit())
}

func (m Model) viewInput() string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render("URL:"))
	b.WriteString(" ")
	b.WriteString(m.urlInput.View())
	if m.ctl.Busy() {
		if _, prompting := m.ctl.Prompt(); !prompting {
			b.WriteString(" ")
			b.WriteString(m.spinner.View())
			b.WriteString(dimStyle.Render(m.ctl.ConflictState().String()))
		}
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) viewConflict() string {
	prompt, ok := m.ctl.Prompt()
	if !ok {
		return ""
	}

	var b strings.Builder
	b.WriteString(warningStyle.Render("File already exists"))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("%s\n", prompt.ExistingFilePath))
	b.WriteString(dimStyle.Render(prompt.URL))
	b.WriteString("\n\n")

	if m.mode == ModeSaveAs {
		b.WriteString(m.saveAsInput.View())
		if m.inputErr != "" {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render(m.inputErr))
		}
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("enter: save • esc: back"))
	} else {
		b.WriteString(dimStyle.Render("o: overwrite • r: resume • s: save as • esc: cancel"))
	}
	return boxStyle.Render(b.String())
}

func (m Model) viewRemoval() string {
	req, ok := m.ctl.PendingRemoval()
	if !ok {
		return ""
	}

	check := "[ ]"
	if req.RemoveFromDisk {
		check = "[×]"
	}

	var b strings.Builder
	b.WriteString(errorStyle.Render("Remove " + req.Download.DisplayName() + "?"))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("  %s Also delete the file from disk (d)\n\n", check))
	b.WriteString(dimStyle.Render("y: remove • n: cancel"))
	return boxStyle.Render(b.String())
}

func (m Model) viewSettings() string {
	settings, loaded := m.ctl.Settings()

	var b strings.Builder
	b.WriteString(subtitleStyle.Render("Settings"))
	b.WriteString("\n\n")
	if !loaded {
		b.WriteString(m.spinner.View())
		b.WriteString(dimStyle.Render("loading settings..."))
		return boxStyle.Render(b.String())
	}

	for i, f := range settingFields {
		line := fmt.Sprintf("%s: %s", f.label, f.value(settings))
		if i == m.settingIdx {
			b.WriteString(selectedStyle.Render("▸ " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.mode == ModeEditSetting {
		b.WriteString(m.settingInput.View())
		if m.inputErr != "" {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render(m.inputErr))
		}
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("enter: apply • esc: back"))
	} else {
		b.WriteString(dimStyle.Render("enter: edit • esc: close"))
	}
	return boxStyle.Render(b.String())
}

func (m Model) renderNotices() string {
	notices := m.ctl.Notices()
	if len(notices) > noticeLines {
		notices = notices[len(notices)-noticeLines:]
	}

	var b strings.Builder
	for _, n := range notices {
		var style lipgloss.Style
		prefix := "•"
		switch n.Level {
		case controller.NoticeError:
			style = errorStyle
			prefix = "✗"
		case controller.NoticeWarning:
			style = warningStyle
			prefix = "!"
		case controller.NoticeSuccess:
			style = successStyle
			prefix = "✓"
		case controller.NoticeInfo:
			style = infoStyle
			prefix = "›"
		default:
			style = dimStyle
		}
		b.WriteString(dimStyle.Render(n.Time.Format("15:04:05")))
		b.WriteString(" ")
		b.WriteString(style.Render(prefix + " " + n.Message))
		b.WriteString("\n")
	}
	return b.String()
}

// Run starts the TUI application for ctl.
func Run(ctl *controller.Controller) error {
	p := tea.NewProgram(NewModel(ctl), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
