package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"shopbot/internal/config"
	"shopbot/internal/domain"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "history.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// --- Queries ---

func TestRecentQueries_OldestFirstAndLimited(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, q := range []string{"rain jacket", "umbrella", "boots", "waterproof hat"} {
		if err := store.AppendQuery(ctx, "conv-1", q); err != nil {
			t.Fatal(err)
		}
	}
	store.AppendQuery(ctx, "conv-2", "headphones")

	got, err := store.RecentQueries(ctx, "conv-1", 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"umbrella", "boots", "waterproof hat"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("query[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRecentQueries_EmptyConversation(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.AppendQuery(ctx, "", "ignored"); err != nil {
		t.Fatal(err)
	}
	got, err := store.RecentQueries(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("anonymous conversations keep no history, got %v", got)
	}

	got, _ = store.RecentQueries(ctx, "missing", 10)
	if len(got) != 0 {
		t.Errorf("expected no history, got %v", got)
	}
}

// --- Turns ---

func TestRecordTurn_ListNewestFirst(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	turns := []domain.TurnRecord{
		{ID: "t-1", ConversationID: "c-1", Source: "api", Query: "black shirt", IntentType: domain.IntentDirectSearch, Confidence: 0.9, Items: 3, CreatedAt: base},
		{ID: "t-2", ConversationID: "c-1", Source: "webhook", Query: "going to Seattle", IntentType: domain.IntentContextual, Confidence: 0.8, Items: 6, Notified: true, Fallbacks: "ideas", CreatedAt: base.Add(time.Minute)},
		{ID: "t-3", ConversationID: "c-2", Source: "cli", Query: "weather?", IntentType: domain.IntentOffTopic, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, tr := range turns {
		if err := store.RecordTurn(ctx, tr); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.ListTurns(ctx, "c-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(got))
	}
	if got[0].ID != "t-2" || got[1].ID != "t-1" {
		t.Errorf("expected newest first, got %s, %s", got[0].ID, got[1].ID)
	}
	if !got[0].Notified || got[0].Fallbacks != "ideas" || got[0].IntentType != domain.IntentContextual {
		t.Errorf("turn fields not round-tripped: %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("created_at = %v", got[0].CreatedAt)
	}

	all, _ := store.ListTurns(ctx, "", 2)
	if len(all) != 2 || all[0].ID != "t-3" {
		t.Errorf("expected limit 2 across conversations starting with t-3, got %+v", all)
	}
}

func TestRecordTurn_ReplacesSameID(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	store.RecordTurn(ctx, domain.TurnRecord{ID: "t-1", Query: "q", IntentType: domain.IntentDirectSearch})
	store.RecordTurn(ctx, domain.TurnRecord{ID: "t-1", Query: "q", IntentType: domain.IntentDirectSearch, Items: 5})

	got, _ := store.ListTurns(ctx, "", 10)
	if len(got) != 1 || got[0].Items != 5 {
		t.Errorf("expected one updated turn, got %+v", got)
	}
}

// --- Notifications and pruning ---

func TestRecordNotification(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	err := store.RecordNotification(ctx, domain.NotificationRecord{
		TurnID: "t-1", Sink: "slack", Subject: "hello", Error: "channel_not_found",
	})
	if err != nil {
		t.Fatal(err)
	}

	var sink, errText string
	var delivered bool
	store.db.QueryRow("SELECT sink, delivered, error FROM notifications WHERE turn_id=?", "t-1").Scan(&sink, &delivered, &errText)
	if sink != "slack" || delivered || errText != "channel_not_found" {
		t.Errorf("unexpected row: sink=%s delivered=%v error=%s", sink, delivered, errText)
	}
}

func TestPrune(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	store.now = func() time.Time { return now.Add(-100 * 24 * time.Hour) }
	store.AppendQuery(ctx, "c-1", "old query")
	store.RecordTurn(ctx, domain.TurnRecord{ID: "old", Query: "old", IntentType: domain.IntentDirectSearch})
	store.RecordNotification(ctx, domain.NotificationRecord{TurnID: "old", Sink: "log", Delivered: true})

	store.now = func() time.Time { return now }
	store.AppendQuery(ctx, "c-1", "new query")
	store.RecordTurn(ctx, domain.TurnRecord{ID: "new", Query: "new", IntentType: domain.IntentDirectSearch})

	n, err := store.Prune(ctx, now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected 3 rows pruned, got %d", n)
	}

	queries, _ := store.RecentQueries(ctx, "c-1", 10)
	if len(queries) != 1 || queries[0] != "new query" {
		t.Errorf("expected only the new query, got %v", queries)
	}
	turns, _ := store.ListTurns(ctx, "", 10)
	if len(turns) != 1 || turns[0].ID != "new" {
		t.Errorf("expected only the new turn, got %+v", turns)
	}
}

// --- Factory ---

func TestNew_Drivers(t *testing.T) {
	ctx := context.Background()

	store, err := New(ctx, config.StorageConfig{Enabled: false}, nil)
	if err != nil || store != nil {
		t.Errorf("disabled storage should return nil, nil; got %v, %v", store, err)
	}

	store, err = New(ctx, config.StorageConfig{Enabled: true, Driver: "sqlite", DBPath: filepath.Join(t.TempDir(), "h.db")}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*SQLiteStore); !ok {
		t.Errorf("expected *SQLiteStore, got %T", store)
	}
	store.Close()

	if _, err := New(ctx, config.StorageConfig{Enabled: true, Driver: "postgres"}, nil); err == nil {
		t.Error("expected error for postgres without a URL")
	}
	if _, err := New(ctx, config.StorageConfig{Enabled: true, Driver: "mongo"}, nil); err == nil {
		t.Error("expected error for unknown driver")
	}
}
