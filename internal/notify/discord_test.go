package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"packrip/internal/realtime"

	"github.com/bwmarrin/discordgo"
)

type fakeExecutor struct {
	calls []*discordgo.WebhookParams
	ids   []string
	err   error
}

func (f *fakeExecutor) WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.ids = append(f.ids, webhookID+"/"+token)
	f.calls = append(f.calls, data)
	return &discordgo.Message{}, f.err
}

func TestParseWebhookURL(t *testing.T) {
	id, token, err := ParseWebhookURL("https://discord.com/api/webhooks/123/abc-def")
	if err != nil || id != "123" || token != "abc-def" {
		t.Fatalf("got id=%q token=%q err=%v", id, token, err)
	}
	for _, bad := range []string{"", "not a url", "https://discord.com/api/webhooks/123", "https://example.com/hooks/1/2"} {
		if _, _, err := ParseWebhookURL(bad); !errors.Is(err, ErrBadWebhookURL) {
			t.Fatalf("ParseWebhookURL(%q) err=%v", bad, err)
		}
	}
}

func TestMessage(t *testing.T) {
	tests := []struct {
		event realtime.Event
		want  string
	}{
		{event: realtime.Event{TradeID: "0123456789", Status: "pending", Op: "insert"}, want: "01234567"},
		{event: realtime.Event{TradeID: "t1", Status: "accepted", Op: "update"}, want: "accepted"},
		{event: realtime.Event{TradeID: "t1", Status: "declined", Op: "update"}, want: "declined"},
		{event: realtime.Event{TradeID: "t1", Status: "expired", Op: "update"}, want: ""},
		{event: realtime.Event{TradeID: "t1", Status: "cancelled", Op: "update"}, want: ""},
	}
	for _, tc := range tests {
		got := Message(tc.event)
		if tc.want == "" {
			if got != "" {
				t.Fatalf("%+v should be silent, got %q", tc.event, got)
			}
			continue
		}
		if !strings.Contains(got, tc.want) {
			t.Fatalf("Message(%+v)=%q want it to contain %q", tc.event, got, tc.want)
		}
	}
}

func TestMessageDoesNotLeakUserIDs(t *testing.T) {
	got := Message(realtime.Event{TradeID: "t1", FromUserID: "user-a", ToUserID: "user-b", Status: "accepted"})
	if strings.Contains(got, "user-a") || strings.Contains(got, "user-b") {
		t.Fatalf("message leaks user ids: %q", got)
	}
}

func TestSend(t *testing.T) {
	fake := &fakeExecutor{}
	d := newDiscord(fake, "123", "tok", nil)
	ctx := context.Background()

	if err := d.Send(ctx, realtime.Event{TradeID: "t1", Status: "accepted"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := d.Send(ctx, realtime.Event{TradeID: "t1", Status: "expired"}); err != nil {
		t.Fatalf("silent send: %v", err)
	}
	if len(fake.calls) != 1 || fake.ids[0] != "123/tok" {
		t.Fatalf("calls=%d ids=%v", len(fake.calls), fake.ids)
	}

	fake.err = errors.New("discord down")
	if err := d.Send(ctx, realtime.Event{TradeID: "t2", Status: "declined"}); err == nil {
		t.Fatalf("expected executor error")
	}
}

func TestPublishSkipsSilentEvents(t *testing.T) {
	d := newDiscord(&fakeExecutor{}, "1", "2", nil)
	d.Publish(realtime.Event{TradeID: "t1", Status: "expired"})
	d.Publish(realtime.Event{TradeID: "t1", Status: "pending", Op: "insert"})
	if len(d.queue) != 1 {
		t.Fatalf("queued %d events", len(d.queue))
	}
}
