package main

import (
	"strings"
	"testing"
	"time"

	"packrip/internal/realtime"
)

func TestSplitIDs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "a,b,c", want: []string{"a", "b", "c"}},
		{in: " a , b ", want: []string{"a", "b"}},
		{in: "a b,,c", want: []string{"a", "b", "c"}},
		{in: " , ", want: nil},
	}
	for _, tt := range tests {
		got := splitIDs(tt.in)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Fatalf("splitIDs(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestClarityBar(t *testing.T) {
	tests := []struct {
		clarity int
		filled  int
	}{
		{0, 0},
		{50, 10},
		{100, 20},
		{140, 20},
		{-5, 0},
	}
	for _, tt := range tests {
		bar := clarityBar(tt.clarity, 20)
		if got := strings.Count(bar, "█"); got != tt.filled {
			t.Fatalf("clarity %d: filled %d, want %d", tt.clarity, got, tt.filled)
		}
		if got := len([]rune(bar)); got != 20 {
			t.Fatalf("clarity %d: width %d", tt.clarity, got)
		}
	}
}

func TestDescribeEvent(t *testing.T) {
	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	e := realtime.Event{TradeID: "0123456789abcdef", FromUserID: "me", ToUserID: "them-1234", Status: "accepted"}

	out := describeEvent(e, "me", at)
	if !strings.HasPrefix(out, "15:04:05  trade 01234567 to ") || !strings.HasSuffix(out, "accepted") {
		t.Fatalf("unexpected outgoing line: %q", out)
	}
	in := describeEvent(e, "them-1234", at)
	if !strings.Contains(in, " from ") {
		t.Fatalf("expected incoming line, got %q", in)
	}
}

func TestShareLink(t *testing.T) {
	if got := shareLink("http://localhost:8080/", "ref1"); got != "http://localhost:8080/v1/traders/ref1/cards" {
		t.Fatalf("unexpected link %q", got)
	}
}
