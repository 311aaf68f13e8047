// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/graphsheet/seriessync/pkg/ux"
	"github.com/graphsheet/seriessync/services/planner"
	"github.com/graphsheet/seriessync/services/planner/converge"
	"github.com/graphsheet/seriessync/services/planner/executor"
)

// streamFrame mirrors one message on the converge WebSocket. Exactly one
// payload field is set, named by Type.
type streamFrame struct {
	Type   string                 `json:"type"`
	Event  *executor.Event        `json:"event,omitempty"`
	Report *converge.Report       `json:"report,omitempty"`
	Error  *planner.ErrorResponse `json:"error,omitempty"`
}

// recentLines caps the rolling event window in the live view.
const recentLines = 8

// watchConverge runs a converge over the WebSocket, drawing live progress
// on stderr, and returns the final report.
func watchConverge(req planner.ConvergeRequest) (*converge.Report, error) {
	wsURL := strings.Replace(serviceBaseURL(), "http", "ws", 1) + "/v1/planner/converge/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", wsURL, err)
	}
	defer conn.Close()

	// The opening frame carries the whole request.
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("sending converge request: %w", err)
	}

	// Buffered so a quitting view never wedges the reader mid-send.
	frames := make(chan streamFrame, 256)
	go func() {
		defer close(frames)
		for {
			var f streamFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			frames <- f
		}
	}()

	// TUI draws on stderr so stdout stays clean for the final report.
	p := tea.NewProgram(newWatchModel(frames), tea.WithOutput(os.Stderr))
	finalModel, err := p.Run()
	if err != nil {
		return nil, err
	}

	m, ok := finalModel.(watchModel)
	if !ok {
		return nil, fmt.Errorf("unexpected model type from bubbletea: %T", finalModel)
	}

	switch {
	case m.cancelled:
		return nil, fmt.Errorf("cancelled")
	case m.svcErr != nil:
		return nil, fmt.Errorf("%s: %s", m.svcErr.Code, m.svcErr.Error)
	case m.report == nil:
		return nil, fmt.Errorf("stream ended without a report")
	}
	return m.report, nil
}

// frameMsg delivers the next stream frame to the model. ok is false once
// the socket has closed.
type frameMsg struct {
	frame streamFrame
	ok    bool
}

// waitForFrame blocks on the frame channel as a bubbletea command; Update
// re-issues it after consuming each frame.
func waitForFrame(frames <-chan streamFrame) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-frames
		return frameMsg{frame: f, ok: ok}
	}
}

// watchModel is the live converge view: a spinner, running tallies, and a
// rolling window of recent fetch events.
type watchModel struct {
	frames  <-chan streamFrame
	spinner spinner.Model

	succeeded int
	failed    int
	skipped   int
	merged    int
	itemsDone int
	recent    []string

	report    *converge.Report
	svcErr    *planner.ErrorResponse
	cancelled bool
}

func newWatchModel(frames <-chan streamFrame) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = ux.Styles.Highlight
	return watchModel{frames: frames, spinner: sp}
}

// Init starts the spinner and the frame pump.
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForFrame(m.frames))
}

// Update handles stream frames, spinner ticks, and cancellation.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			// Closing the socket cancels the run server-side.
			m.cancelled = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case frameMsg:
		if !msg.ok {
			return m, tea.Quit
		}
		switch msg.frame.Type {
		case "event":
			if msg.frame.Event != nil {
				m = m.recordEvent(*msg.frame.Event)
			}
			return m, waitForFrame(m.frames)
		case "report":
			m.report = msg.frame.Report
			return m, tea.Quit
		case "error":
			m.svcErr = msg.frame.Error
			return m, tea.Quit
		default:
			return m, waitForFrame(m.frames)
		}
	}
	return m, nil
}

// recordEvent folds one executor event into the tallies and the rolling
// event window.
func (m watchModel) recordEvent(ev executor.Event) watchModel {
	var line string
	window := ""
	if ev.Window != nil {
		window = fmt.Sprintf("%s..%s", ev.Window.Start, ev.Window.End)
	}

	switch ev.Type {
	case executor.EventWindowStart:
		line = fmt.Sprintf("%s %s %s", ux.IconArrow.Render(), ev.ItemKey, window)
	case executor.EventWindowSuccess:
		m.succeeded++
		m.merged += ev.Merged
		line = fmt.Sprintf("%s %s %s: %d entries", ux.IconSuccess.Render(), ev.ItemKey, window, ev.Merged)
	case executor.EventWindowFailure:
		m.failed++
		line = fmt.Sprintf("%s %s %s: %s", ux.IconError.Render(), ev.ItemKey, window, ev.Error)
	case executor.EventWindowSkipped:
		m.skipped++
		line = fmt.Sprintf("%s %s %s: skipped", ux.IconPending.Render(), ev.ItemKey, window)
	case executor.EventItemDone:
		m.itemsDone++
		return m
	default:
		return m
	}

	m.recent = append(m.recent, line)
	if len(m.recent) > recentLines {
		m.recent = m.recent[len(m.recent)-recentLines:]
	}
	return m
}

// View renders the spinner line, the tallies, and the recent events.
func (m watchModel) View() string {
	if m.report != nil || m.svcErr != nil || m.cancelled {
		return ""
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s converging  %s\n",
		m.spinner.View(),
		ux.Styles.Muted.Render(fmt.Sprintf("%d ok  %d failed  %d skipped  %d entries  %d items done",
			m.succeeded, m.failed, m.skipped, m.merged, m.itemsDone))))
	for _, line := range m.recent {
		b.WriteString("  " + line + "\n")
	}
	return b.String()
}
