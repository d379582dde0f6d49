package realtime

import (
	"context"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lib/pq"
)

const dedupSize = 4096

// Listener relays Postgres NOTIFY payloads from the trade trigger to its sinks.
type Listener struct {
	dsn   string
	log   *slog.Logger
	sinks []Sink
	seen  *lru.Cache[string, struct{}]
}

func NewListener(dsn string, logger *slog.Logger, sinks ...Sink) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	seen, _ := lru.New[string, struct{}](dedupSize)
	return &Listener{dsn: dsn, log: logger, sinks: sinks, seen: seen}
}

// Handle decodes one payload and publishes it unless the same trade status was already seen.
// It reports whether the event was published.
func (l *Listener) Handle(payload string) bool {
	e, err := Decode(payload)
	if err != nil {
		l.log.Warn("dropping trade event", "err", err)
		return false
	}
	if ok, _ := l.seen.ContainsOrAdd(e.Key(), struct{}{}); ok {
		return false
	}
	for _, s := range l.sinks {
		s.Publish(e)
	}
	return true
}

// Run listens until ctx is done. The driver reconnects on its own; a nil notification marks a
// reconnect after which events may have been missed.
func (l *Listener) Run(ctx context.Context) error {
	pl := pq.NewListener(l.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			l.log.Warn("trade listener connection", "event", int(ev), "err", err)
		case pq.ListenerEventReconnected:
			l.log.Info("trade listener reconnected")
		}
	})
	defer pl.Close()
	if err := pl.Listen(Channel); err != nil {
		return err
	}
	l.log.Info("listening for trade events", "channel", Channel)

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-pl.Notify:
			if n == nil {
				continue
			}
			l.Handle(n.Extra)
		case <-ping.C:
			if err := pl.Ping(); err != nil {
				l.log.Warn("trade listener ping failed", "err", err)
			}
		}
	}
}
