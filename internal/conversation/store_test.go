package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/grunted/grunts/internal/errs"
)

func testStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb, Options{TTL: 3 * time.Hour, MaxTurns: 20}), mr
}

func userTurn(content string) Turn {
	return Turn{Role: "user", Content: content, InputTokens: 10}
}

func assistantTurn(content string) Turn {
	return Turn{Role: "assistant", Content: content, ToolName: "chat", ModelName: "o3-mini", OutputTokens: 25}
}

func TestCreateAndGetThread(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	id, err := store.CreateThread(ctx, "chat", map[string]string{"label": "greeting"})
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if id == "" {
		t.Fatal("empty thread id")
	}

	th, err := store.GetThread(ctx, id)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if th.ToolName != "chat" {
		t.Errorf("tool = %q", th.ToolName)
	}
	if th.Metadata["label"] != "greeting" {
		t.Errorf("metadata = %v", th.Metadata)
	}
	if len(th.Turns) != 0 {
		t.Errorf("new thread has %d turns", len(th.Turns))
	}
}

func TestGetThreadMiss(t *testing.T) {
	store, _ := testStore(t)

	_, err := store.GetThread(context.Background(), "nonexistent")
	if !errs.IsKind(err, errs.KindThreadNotFound) {
		t.Fatalf("err = %v, want thread_not_found", err)
	}
}

func TestAppendTurnOrderAndCounters(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	id, _ := store.CreateThread(ctx, "chat", nil)
	for i := 0; i < 3; i++ {
		if err := store.AppendTurn(ctx, id, userTurn(fmt.Sprintf("q%d", i))); err != nil {
			t.Fatalf("append user %d: %v", i, err)
		}
		if err := store.AppendTurn(ctx, id, assistantTurn(fmt.Sprintf("a%d", i))); err != nil {
			t.Fatalf("append assistant %d: %v", i, err)
		}
	}

	th, err := store.GetThread(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(th.Turns) != 6 {
		t.Fatalf("got %d turns, want 6", len(th.Turns))
	}
	// Order reflects append order exactly
	for i := 0; i < 3; i++ {
		if th.Turns[2*i].Content != fmt.Sprintf("q%d", i) || th.Turns[2*i+1].Content != fmt.Sprintf("a%d", i) {
			t.Fatalf("turn order broken at pair %d: %q / %q", i, th.Turns[2*i].Content, th.Turns[2*i+1].Content)
		}
	}

	// Counters equal the sum over turns
	var in, out int
	for _, turn := range th.Turns {
		in += turn.InputTokens
		out += turn.OutputTokens
	}
	if th.TotalInputTokens != in || th.TotalOutputTokens != out {
		t.Errorf("counters %d/%d, want %d/%d", th.TotalInputTokens, th.TotalOutputTokens, in, out)
	}

	stats, err := store.Stats(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Turns != 6 || stats.InputTokens != in || stats.OutputTokens != out {
		t.Errorf("stats = %+v", stats)
	}
	if len(stats.ToolsUsed) != 1 || stats.ToolsUsed[0] != "chat" {
		t.Errorf("tools used = %v", stats.ToolsUsed)
	}
	if len(stats.ModelsUsed) != 1 || stats.ModelsUsed[0] != "o3-mini" {
		t.Errorf("models used = %v", stats.ModelsUsed)
	}
}

func TestThreadFullBoundary(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	id, _ := store.CreateThread(ctx, "chat", nil)
	for i := 0; i < 20; i++ {
		if err := store.AppendTurn(ctx, id, userTurn("x")); err != nil {
			t.Fatalf("append %d should succeed: %v", i+1, err)
		}
	}
	// The MAX_TURNS+1-th append fails with thread_full; reads still work
	err := store.AppendTurn(ctx, id, userTurn("one too many"))
	if !errs.IsKind(err, errs.KindThreadFull) {
		t.Fatalf("err = %v, want thread_full", err)
	}
	th, err := store.GetThread(ctx, id)
	if err != nil || len(th.Turns) != 20 {
		t.Fatalf("read after full: %v, %d turns", err, len(th.Turns))
	}
}

func TestAppendTurnsAllOrNothing(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := NewStore(rdb, Options{TTL: time.Hour, MaxTurns: 3})
	ctx := context.Background()

	id, _ := store.CreateThread(ctx, "chat", nil)
	if err := store.AppendTurns(ctx, id, userTurn("q0"), assistantTurn("a0")); err != nil {
		t.Fatalf("first exchange: %v", err)
	}

	// One slot left: a two-turn exchange is rejected whole, no half writes
	err := store.AppendTurns(ctx, id, userTurn("q1"), assistantTurn("a1"))
	if !errs.IsKind(err, errs.KindThreadFull) {
		t.Fatalf("err = %v, want thread_full", err)
	}
	th, err := store.GetThread(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(th.Turns) != 2 {
		t.Fatalf("got %d turns after rejected exchange, want 2", len(th.Turns))
	}
	if th.TotalInputTokens != 10 || th.TotalOutputTokens != 25 {
		t.Errorf("counters moved on a rejected exchange: %d/%d", th.TotalInputTokens, th.TotalOutputTokens)
	}

	// The remaining slot still takes a single turn
	if err := store.AppendTurn(ctx, id, userTurn("q1")); err != nil {
		t.Fatalf("single append into last slot: %v", err)
	}
}

func TestAppendToExpiredThread(t *testing.T) {
	store, mr := testStore(t)
	ctx := context.Background()

	id, _ := store.CreateThread(ctx, "chat", nil)
	if err := store.AppendTurn(ctx, id, userTurn("hello")); err != nil {
		t.Fatal(err)
	}

	// Just inside the timeout: still readable
	mr.FastForward(3*time.Hour - time.Second)
	if _, err := store.GetThread(ctx, id); err != nil {
		t.Fatalf("thread expired early: %v", err)
	}

	// Past the timeout: indistinguishable from nonexistent
	mr.FastForward(2 * time.Second)
	if _, err := store.GetThread(ctx, id); !errs.IsKind(err, errs.KindThreadNotFound) {
		t.Fatalf("get after expiry = %v, want thread_not_found", err)
	}
	if err := store.AppendTurn(ctx, id, userTurn("late")); !errs.IsKind(err, errs.KindThreadNotFound) {
		t.Fatalf("append after expiry = %v, want thread_not_found", err)
	}
}

func TestAppendRefreshesTTL(t *testing.T) {
	store, mr := testStore(t)
	ctx := context.Background()

	id, _ := store.CreateThread(ctx, "chat", nil)
	mr.FastForward(2 * time.Hour)
	if err := store.AppendTurn(ctx, id, userTurn("keepalive")); err != nil {
		t.Fatal(err)
	}
	// The append reset the clock: two more hours is fine now
	mr.FastForward(2 * time.Hour)
	if _, err := store.GetThread(ctx, id); err != nil {
		t.Fatalf("thread expired despite refresh: %v", err)
	}
}

func TestTurnRoundTrip(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	id, _ := store.CreateThread(ctx, "debug", nil)
	sent := Turn{
		Role:         "assistant",
		Content:      "fixed the bug",
		ToolName:     "debug",
		ModelName:    "gemini-2.5-pro",
		Timestamp:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		InputTokens:  123,
		OutputTokens: 456,
	}
	if err := store.AppendTurn(ctx, id, sent); err != nil {
		t.Fatal(err)
	}

	th, err := store.GetThread(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	got := th.Turns[0]
	if got != sent {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, sent)
	}
}

func TestConcurrentAppendsSerialize(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	id, _ := store.CreateThread(ctx, "chat", nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.AppendTurn(ctx, id, userTurn(fmt.Sprintf("m%d", i)))
		}(i)
	}
	wg.Wait()

	th, err := store.GetThread(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(th.Turns) != 10 {
		t.Fatalf("got %d turns, want 10", len(th.Turns))
	}
	if th.TotalInputTokens != 100 {
		t.Errorf("input tokens = %d, want 100", th.TotalInputTokens)
	}
}
