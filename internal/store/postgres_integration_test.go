package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
)

// Requires a reachable Postgres; skipped unless TEST_DATABASE_URL is set.
func setupPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	st, err := OpenPostgres(context.Background(), url)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() {
		_, _ = st.db.Exec(`DELETE FROM nodes WHERE path LIKE 'itest-%'`)
		st.Close()
	})
	return st
}

func TestPostgresDocumentLifecycle(t *testing.T) {
	st := setupPostgres(t)
	ctx := context.Background()

	if err := st.Set(ctx, "itest-users/u1", map[string]any{"id": "u1", "kudos": 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := st.Update(ctx, "itest-users/u1", map[string]any{"deviceId": "d1"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	var got map[string]any
	if err := st.Get(ctx, "itest-users/u1", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["deviceId"] != "d1" || got["kudos"] != float64(1) {
		t.Errorf("unexpected merged document: %v", got)
	}

	if err := st.Remove(ctx, "itest-users/u1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := st.Get(ctx, "itest-users/u1", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresChildrenAndSubtreeRemove(t *testing.T) {
	st := setupPostgres(t)
	ctx := context.Background()

	var keys []string
	for _, id := range []string{"a", "b", "c"} {
		key := st.Push("itest-groups/g1/tasks")
		keys = append(keys, key)
		if err := st.Set(ctx, Join("itest-groups", "g1", "tasks", key), map[string]string{"id": id}); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	entries, err := st.Children(ctx, "itest-groups/g1/tasks")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry.Key != keys[i] {
			t.Errorf("entry %d out of order: %q", i, entry.Key)
		}
	}

	if err := st.Remove(ctx, "itest-groups/g1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	entries, err = st.Children(ctx, "itest-groups/g1/tasks")
	if err != nil {
		t.Fatalf("Children after remove: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected subtree removed, got %d entries", len(entries))
	}
}

func TestPostgresTransaction(t *testing.T) {
	st := setupPostgres(t)
	ctx := context.Background()

	if err := st.Set(ctx, "itest-users/u2", map[string]any{"kudos": 0}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for i := 0; i < 5; i++ {
		err := st.Transaction(ctx, "itest-users/u2", func(current json.RawMessage) (any, error) {
			var doc map[string]any
			if err := json.Unmarshal(current, &doc); err != nil {
				return nil, err
			}
			kudos, _ := doc["kudos"].(float64)
			doc["kudos"] = int(kudos) + 1
			return doc, nil
		})
		if err != nil {
			t.Fatalf("Transaction: %v", err)
		}
	}

	var got struct {
		Kudos int `json:"kudos"`
	}
	if err := st.Get(ctx, "itest-users/u2", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Kudos != 5 {
		t.Errorf("expected 5 kudos, got %d", got.Kudos)
	}
}
