// Package notify posts trade activity to a Discord webhook.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"packrip/internal/realtime"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

var ErrBadWebhookURL = errors.New("discord webhook url must look like https://discord.com/api/webhooks/<id>/<token>")

type executor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Discord struct {
	exec    executor
	id      string
	token   string
	log     *slog.Logger
	limiter *rate.Limiter
	queue   chan realtime.Event
}

func NewDiscord(webhookURL string, logger *slog.Logger) (*Discord, error) {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	s, err := discordgo.New("")
	if err != nil {
		return nil, err
	}
	return newDiscord(s, id, token, logger), nil
}

func newDiscord(exec executor, id, token string, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		exec:  exec,
		id:    id,
		token: token,
		log:   logger,
		// Discord allows roughly 5 webhook calls per 2 seconds.
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 3),
		queue:   make(chan realtime.Event, 256),
	}
}

func ParseWebhookURL(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", "", ErrBadWebhookURL
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", ErrBadWebhookURL
}

// Publish queues an event for delivery. Events are dropped when the queue is full.
func (d *Discord) Publish(e realtime.Event) {
	if Message(e) == "" {
		return
	}
	select {
	case d.queue <- e:
	default:
		d.log.Warn("discord queue full, dropping trade event", "trade_id", e.TradeID)
	}
}

// Run delivers queued events until ctx is done.
func (d *Discord) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.queue:
			if err := d.Send(ctx, e); err != nil && ctx.Err() == nil {
				d.log.Error("discord notify failed", "trade_id", e.TradeID, "err", err)
			}
		}
	}
}

func (d *Discord) Send(ctx context.Context, e realtime.Event) error {
	content := Message(e)
	if content == "" {
		return nil
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := d.exec.WebhookExecute(d.id, d.token, false, &discordgo.WebhookParams{
		Username: "packrip",
		Content:  content,
	}, discordgo.WithContext(ctx))
	return err
}

// Message renders the webhook text for an event; empty means the event is not announced.
func Message(e realtime.Event) string {
	ref := shortID(e.TradeID)
	switch {
	case e.Op == "insert" && e.Status == "pending":
		return fmt.Sprintf("New trade offer `%s` is waiting for a response.", ref)
	case e.Status == "accepted":
		return fmt.Sprintf("Trade `%s` accepted. Cards have changed hands.", ref)
	case e.Status == "declined":
		return fmt.Sprintf("Trade `%s` was declined.", ref)
	default:
		return ""
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
