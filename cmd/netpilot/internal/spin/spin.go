// Package spin shows a spinner on the terminal while the agent works.
package spin

import (
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Spinner runs a small bubbletea program between Start and Stop. A disabled
// Spinner does nothing, which keeps piped output clean.
type Spinner struct {
	out     io.Writer
	enabled bool

	mu    sync.Mutex
	prog  *tea.Program
	done  chan struct{}
	label string
}

// New returns a Spinner writing to out.
func New(out io.Writer, enabled bool) *Spinner {
	return &Spinner{out: out, enabled: enabled}
}

// Start shows the spinner with label. It is a no-op while already running.
func (s *Spinner) Start(label string) {
	if !s.enabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.prog != nil {
		return
	}

	sp := spinner.New(
		spinner.WithSpinner(spinner.MiniDot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#8250df"))),
	)

	s.label = label
	s.prog = tea.NewProgram(model{spin: sp, label: label},
		tea.WithOutput(s.out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	s.done = make(chan struct{})

	go func(p *tea.Program, done chan struct{}) {
		defer close(done)
		_, _ = p.Run()
	}(s.prog, s.done)
}

// Stop clears the spinner and waits for it to exit.
func (s *Spinner) Stop() {
	s.mu.Lock()
	prog, done := s.prog, s.done
	s.prog, s.done = nil, nil
	s.mu.Unlock()

	if prog == nil {
		return
	}

	prog.Send(stopMsg{})
	<-done
}

// Pause stops a running spinner and returns a function that restarts it.
func (s *Spinner) Pause() (resume func()) {
	s.mu.Lock()
	running, label := s.prog != nil, s.label
	s.mu.Unlock()

	s.Stop()

	return func() {
		if running {
			s.Start(label)
		}
	}
}

type stopMsg struct{}

type model struct {
	spin  spinner.Model
	label string
	done  bool
}

func (m model) Init() tea.Cmd { return m.spin.Tick }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stopMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	if m.done {
		return ""
	}
	return m.spin.View() + " " + m.label
}
