// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package viewer

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatmark/internal/cache"
	"github.com/jeranaias/chatmark/internal/model"
	"github.com/jeranaias/chatmark/internal/render"
	"github.com/jeranaias/chatmark/internal/ui/styles"
)

// ErrNoCodeBlock is reported when there is nothing to copy.
var ErrNoCodeBlock = errors.New("no code block in conversation")

const (
	headerHeight    = 2
	statusBarHeight = 1
	minWidth        = 20
)

// Options configures a viewer.
type Options struct {
	Render render.Options
	Cache  *cache.Blocks

	// Clipboard overrides the system clipboard writer.
	Clipboard func(string) error
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the bubbletea model for the conversation pager.
type Model struct {
	conv     *model.Conversation
	theme    *styles.Theme
	term     *render.Terminal
	blocks   *cache.Blocks
	viewport viewport.Model
	keys     KeyMap
	copyFn   func(string) error

	width    int
	height   int
	ready    bool
	showHelp bool
	status   string
	isError  bool
}

// New creates a viewer for conv.
func New(conv *model.Conversation, opts Options) Model {
	theme := opts.Render.Theme
	if theme == nil {
		theme = styles.NewTheme(opts.Render.ThemeMode)
		opts.Render.Theme = theme
	}
	copyFn := opts.Clipboard
	if copyFn == nil {
		copyFn = clipboard.WriteAll
	}
	return Model{
		conv:     conv,
		theme:    theme,
		term:     render.NewTerminal(opts.Render),
		blocks:   opts.Cache,
		viewport: viewport.New(80, 20),
		keys:     DefaultKeyMap(),
		copyFn:   copyFn,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)
	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = max(msg.Width, minWidth)
	m.height = msg.Height

	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-headerHeight-statusBarHeight, 1)
	m.ready = true
	m.refresh()
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil
	case key.Matches(msg, m.keys.Copy):
		m.copyLastCode()
		return m, nil
	case key.Matches(msg, m.keys.Rerender):
		m.refresh()
		m.setStatus("re-rendered", false)
		return m, nil
	case key.Matches(msg, m.keys.Up):
		m.viewport.LineUp(1)
	case key.Matches(msg, m.keys.Down):
		m.viewport.LineDown(1)
	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
	case key.Matches(msg, m.keys.Home):
		m.viewport.GotoTop()
	case key.Matches(msg, m.keys.End):
		m.viewport.GotoBottom()
	}
	return m, nil
}

func (m *Model) setStatus(text string, isError bool) {
	m.status = text
	m.isError = isError
}

// =============================================================================
// CONTENT
// =============================================================================

// refresh re-renders the whole conversation at the current width, keeping
// the scroll offset where possible.
func (m *Model) refresh() {
	offset := m.viewport.YOffset
	m.term.SetWidth(max(m.width-2, minWidth))
	m.viewport.SetContent(m.renderConversation())
	m.viewport.SetYOffset(offset)
}

func (m *Model) renderConversation() string {
	if m.conv == nil || len(m.conv.Messages) == 0 {
		return m.theme.Timestamp.Render("(empty conversation)")
	}
	out, err := m.term.Conversation(m.conv, m.blocks, time.Now())
	if err != nil {
		log.Printf("VIEWER_RENDER_ERROR | conversation=%s error=%v", m.conv.ID, err)
		return m.theme.ErrorText.Render("render failed: " + err.Error())
	}
	return out
}

func (m *Model) copyLastCode() {
	if m.conv == nil {
		m.setStatus(ErrNoCodeBlock.Error(), true)
		return
	}
	cb, ok := m.conv.LastCodeBlock(m.blocks)
	if !ok {
		m.setStatus(ErrNoCodeBlock.Error(), true)
		return
	}
	if err := m.copyFn(cb.Code); err != nil {
		log.Printf("VIEWER_COPY_ERROR | error=%v", err)
		m.setStatus("copy failed: "+err.Error(), true)
		return
	}
	lines := strings.Count(cb.Code, "\n") + 1
	label := cb.Language
	if label == "" {
		label = "code"
	}
	m.setStatus(fmt.Sprintf("copied %s block (%d lines)", label, lines), false)
}

// =============================================================================
// PROGRAM
// =============================================================================

// Run opens the viewer full-screen and blocks until the user quits.
func Run(conv *model.Conversation, opts Options) error {
	p := tea.NewProgram(New(conv, opts), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("viewer: %w", err)
	}
	return nil
}
