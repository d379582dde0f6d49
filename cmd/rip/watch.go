package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	cl "packrip/internal/cli"
	"packrip/internal/game"
	"packrip/internal/realtime"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

const (
	watchPollEvery  = 30 * time.Second
	watchRetryEvery = 3 * time.Second
	watchEventLines = 8
)

type (
	countMsg int
	eventMsg realtime.Event
	errMsg   struct{ err error }
)

type watchModel struct {
	spinner  spinner.Model
	me       string
	count    int
	known    bool
	events   []string
	lastErr  string
	updates  <-chan int
	incoming <-chan realtime.Event
	errs     <-chan error
	refresh  chan<- struct{}
}

var (
	watchTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	watchCount = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")).Padding(0, 1).
			Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("214"))
	watchFaint = lipgloss.NewStyle().Faint(true)
	watchError = lipgloss.NewStyle().Foreground(lipgloss.Color("197"))
)

func newWatchCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live view of unopened packs and trade activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			client := newClient(apiBase)

			triggers := make(chan struct{}, 1)
			events := make(chan realtime.Event, 16)
			errs := make(chan error, 1)
			report := func(err error) {
				select {
				case errs <- err:
				default:
				}
			}

			count := realtime.NewCount(func(ctx context.Context) (int, error) {
				return client.PackCount(ctx, sess.AccessToken)
			})
			go count.Run(ctx, watchPollEvery, triggers, report)
			go streamEvents(ctx, client, sess.AccessToken, events, triggers, report)

			m := watchModel{
				spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
				me:       sess.UserID,
				updates:  count.Updates(),
				incoming: events,
				errs:     errs,
				refresh:  triggers,
			}
			_, err = tea.NewProgram(m, tea.WithContext(ctx)).Run()
			return err
		},
	}
}

// streamEvents keeps the event stream open, reconnecting until ctx is done. Every event also
// nudges the count to re-pull.
func streamEvents(ctx context.Context, client *cl.Client, token string, out chan<- realtime.Event, triggers chan<- struct{}, report func(error)) {
	for ctx.Err() == nil {
		err := client.Events(ctx, token, func(e realtime.Event) {
			select {
			case out <- e:
			default:
			}
			select {
			case triggers <- struct{}{}:
			default:
			}
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			report(fmt.Errorf("event stream: %w", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(watchRetryEvery):
		}
	}
}

func waitFor[T any, M tea.Msg](ch <-chan T, wrap func(T) M) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return nil
		}
		return wrap(v)
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitFor(m.updates, func(v int) countMsg { return countMsg(v) }),
		waitFor(m.incoming, func(e realtime.Event) eventMsg { return eventMsg(e) }),
		waitFor(m.errs, func(err error) errMsg { return errMsg{err} }),
	)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			select {
			case m.refresh <- struct{}{}:
			default:
			}
		}
		return m, nil
	case countMsg:
		m.count, m.known, m.lastErr = int(msg), true, ""
		return m, waitFor(m.updates, func(v int) countMsg { return countMsg(v) })
	case eventMsg:
		m.events = append(m.events, describeEvent(realtime.Event(msg), m.me, time.Now()))
		if len(m.events) > watchEventLines {
			m.events = m.events[len(m.events)-watchEventLines:]
		}
		return m, waitFor(m.incoming, func(e realtime.Event) eventMsg { return eventMsg(e) })
	case errMsg:
		m.lastErr = msg.err.Error()
		return m, waitFor(m.errs, func(err error) errMsg { return errMsg{err} })
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(watchTitle.Render("PACK RIP LIVE") + "  " + m.spinner.View() + "\n\n")
	if m.known {
		b.WriteString(watchCount.Render(fmt.Sprintf("%d unopened pack(s)", m.count)) + "\n\n")
	} else {
		b.WriteString(watchFaint.Render("loading pack count...") + "\n\n")
	}
	if len(m.events) == 0 {
		b.WriteString(watchFaint.Render("no trade activity yet") + "\n")
	}
	for _, line := range m.events {
		b.WriteString(line + "\n")
	}
	if m.lastErr != "" {
		b.WriteString("\n" + watchError.Render(m.lastErr) + "\n")
	}
	b.WriteString("\n" + watchFaint.Render("r refresh • q quit") + "\n")
	return b.String()
}

func describeEvent(e realtime.Event, me string, at time.Time) string {
	who := "from " + game.Handle(e.FromUserID)
	if e.FromUserID == me {
		who = "to " + game.Handle(e.ToUserID)
	}
	id := e.TradeID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s  trade %s %s  %s", at.Format("15:04:05"), id, who, e.Status)
}
