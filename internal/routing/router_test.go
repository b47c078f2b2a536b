package routing

import (
	"context"
	"errors"
	"testing"

	gateway "github.com/smartai/router/internal"
	"github.com/smartai/router/internal/blacklist"
	"github.com/smartai/router/internal/testutil"
)

func TestRoute_TagSelector(t *testing.T) {
	t.Parallel()

	free := testutil.TestChannel("free-ch", "http://localhost:11434/v1", 10, "free", "local")
	free.ModelName = "llama-3.1-8b"
	paid := testutil.TestChannel("paid-ch", "http://paid", 10, "premium")
	paid.ModelName = "gpt-4o"
	r := newTestRouter(t, free, paid)

	sel, err := r.Route(context.Background(), &Request{Model: "tag:free"})
	if err != nil {
		t.Fatal(err)
	}
	if sel.Primary.ChannelID != "free-ch" {
		t.Errorf("primary = %s, want free-ch", sel.Primary.ChannelID)
	}
	if sel.Primary.MatchedModel != "llama-3.1-8b" {
		t.Errorf("matched model = %s", sel.Primary.MatchedModel)
	}
}

func TestRoute_AutoStrategyFromSelector(t *testing.T) {
	t.Parallel()

	a := testutil.TestChannel("a", "http://a", 10)
	a.ModelName = "gpt-4o"
	r := newTestRouter(t, a)

	req := &Request{Model: "auto:cost_first"}
	if _, err := r.Route(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if req.Strategy != "cost_first" {
		t.Errorf("strategy = %s, want cost_first", req.Strategy)
	}
}

func TestRoute_CacheHit(t *testing.T) {
	t.Parallel()

	a := testutil.TestChannel("a", "http://a", 10)
	a.ModelName = "gpt-4o"
	r := newTestRouter(t, a)

	first, err := r.Route(context.Background(), &Request{Model: "gpt-4o"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Route(context.Background(), &Request{Model: "gpt-4o"})
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("identical requests should hit the selection cache")
	}

	// Invalidation forces a fresh decision.
	r.Selections().InvalidateChannel("a")
	third, err := r.Route(context.Background(), &Request{Model: "gpt-4o"})
	if err != nil {
		t.Fatal(err)
	}
	if third == first {
		t.Error("invalidated selection should be recomputed")
	}
}

func TestRoute_BackupsOrdered(t *testing.T) {
	t.Parallel()

	var channels []*gateway.Channel
	for _, spec := range []struct {
		id   string
		prio int
	}{{"p1", 1}, {"p2", 2}, {"p3", 3}} {
		ch := testutil.TestChannel(spec.id, "http://"+spec.id, spec.prio)
		ch.ModelName = "same-model"
		channels = append(channels, ch)
	}
	r := newTestRouter(t, channels...)

	sel, err := r.Route(context.Background(), &Request{Model: "same-model"})
	if err != nil {
		t.Fatal(err)
	}
	// Equal scores fall back to priority ordering.
	if sel.Primary.ChannelID != "p1" {
		t.Errorf("primary = %s, want p1", sel.Primary.ChannelID)
	}
	if len(sel.Backups) != 2 || sel.Backups[0].ChannelID != "p2" || sel.Backups[1].ChannelID != "p3" {
		t.Errorf("backups = %+v, want [p2 p3]", sel.Backups)
	}
}

func TestRoute_NoChannels(t *testing.T) {
	t.Parallel()

	a := testutil.TestChannel("a", "http://a", 10)
	a.ModelName = "gpt-4o"
	r := newTestRouter(t, a)

	if _, err := r.Route(context.Background(), &Request{Model: "does-not-exist"}); !errors.Is(err, gateway.ErrNoChannels) {
		t.Errorf("err = %v, want ErrNoChannels", err)
	}
}

func TestRoute_BlacklistedPrimarySkipped(t *testing.T) {
	t.Parallel()

	a := testutil.TestChannel("a", "http://a", 1)
	a.ModelName = "m"
	b := testutil.TestChannel("b", "http://b", 2)
	b.ModelName = "m"
	r := newTestRouter(t, a, b)

	r.blacklist.Add("a", "m", blacklist.Classification{Type: gateway.ErrTypeServer, Backoff: 60e9}, 500, "x")

	sel, err := r.Route(context.Background(), &Request{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if sel.Primary.ChannelID != "b" {
		t.Errorf("primary = %s, want b (a is blacklisted)", sel.Primary.ChannelID)
	}
}

func TestLocalsFirst(t *testing.T) {
	t.Parallel()

	scores := []Score{
		{ChannelID: "remote1", Local: 0.1, Total: 0.9},
		{ChannelID: "local1", Local: 1.0, Total: 0.5},
		{ChannelID: "remote2", Local: 0.1, Total: 0.4},
	}
	got := localsFirst(scores)
	if got[0].ChannelID != "local1" {
		t.Errorf("first = %s, want local1", got[0].ChannelID)
	}
	if got[1].ChannelID != "remote1" || got[2].ChannelID != "remote2" {
		t.Error("remote order should be preserved")
	}

	// Without locals the ordering is untouched.
	noLocals := []Score{{ChannelID: "a", Local: 0.1}, {ChannelID: "b", Local: 0.1}}
	if got := localsFirst(noLocals); got[0].ChannelID != "a" {
		t.Error("no locals: order should be unchanged")
	}
}
