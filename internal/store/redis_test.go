package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func setupTestStore(t *testing.T) *RedisStore {
	t.Helper()
	s := miniredis.RunT(t)
	st, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestDocumentRoundTrip(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	doc := map[string]any{"id": "u1", "firstName": "Ada"}
	if err := st.Set(ctx, "users/u1", doc); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got map[string]any
	if err := st.Get(ctx, "users/u1", &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got["firstName"] != "Ada" {
		t.Errorf("expected firstName Ada, got %v", got["firstName"])
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	err := st.Get(ctx, "users/nope", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	err = st.Get(ctx, "groups/g1/tasks/t1", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for entry path, got %v", err)
	}
}

func TestCollectionEntryRoundTrip(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	key := st.Push("groups/g1/members")
	path := Join("groups", "g1", "members", key)
	if err := st.Set(ctx, path, map[string]string{"id": "u1"}); err != nil {
		t.Fatalf("Set entry failed: %v", err)
	}

	var entry struct {
		ID string `json:"id"`
	}
	if err := st.Get(ctx, path, &entry); err != nil {
		t.Fatalf("Get entry failed: %v", err)
	}
	if entry.ID != "u1" {
		t.Errorf("expected id u1, got %q", entry.ID)
	}

	if err := st.Remove(ctx, path); err != nil {
		t.Fatalf("Remove entry failed: %v", err)
	}
	if err := st.Get(ctx, path, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestUpdateMergesAndCreates(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if err := st.Set(ctx, "users/u1", map[string]any{"id": "u1", "kudos": 3}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := st.Update(ctx, "users/u1", map[string]any{"deviceId": "dev-1"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	var got map[string]any
	if err := st.Get(ctx, "users/u1", &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got["deviceId"] != "dev-1" {
		t.Errorf("expected merged deviceId, got %v", got["deviceId"])
	}
	if got["kudos"] != float64(3) {
		t.Errorf("expected kudos preserved, got %v", got["kudos"])
	}

	// update of an absent document creates it
	if err := st.Update(ctx, "users/u2", map[string]any{"id": "u2"}); err != nil {
		t.Fatalf("Update create failed: %v", err)
	}
	if err := st.Get(ctx, "users/u2", nil); err != nil {
		t.Fatalf("expected document created by update, got %v", err)
	}
}

func TestRemoveDeletesSubtree(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if err := st.Set(ctx, "groups/g1", map[string]string{"id": "g1"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	key := st.Push("groups/g1/members")
	if err := st.Set(ctx, Join("groups", "g1", "members", key), map[string]string{"id": "u1"}); err != nil {
		t.Fatalf("Set member failed: %v", err)
	}

	if err := st.Remove(ctx, "groups/g1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if err := st.Get(ctx, "groups/g1", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected group gone, got %v", err)
	}
	entries, err := st.Children(ctx, "groups/g1/members")
	if err != nil {
		t.Fatalf("Children failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected members subtree gone, got %d entries", len(entries))
	}
}

func TestChildrenOrderedByKey(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	var keys []string
	for _, id := range []string{"a", "b", "c"} {
		key := st.Push("groups/g1/tasks")
		keys = append(keys, key)
		if err := st.Set(ctx, Join("groups", "g1", "tasks", key), map[string]string{"id": id}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	entries, err := st.Children(ctx, "groups/g1/tasks")
	if err != nil {
		t.Fatalf("Children failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry.Key != keys[i] {
			t.Errorf("entry %d: expected key %q, got %q", i, keys[i], entry.Key)
		}
	}
}

func TestQueryChildrenLimitFromEnd(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		key := st.Push("groups/g1/tasks")
		if err := st.Set(ctx, Join("groups", "g1", "tasks", key), map[string]string{"id": id}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	entries, err := st.QueryChildren(ctx, "groups/g1/tasks", Query{Limit: 2, FromEnd: true})
	if err != nil {
		t.Fatalf("QueryChildren failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	var first, second struct {
		ID string `json:"id"`
	}
	if err := entries[0].Decode(&first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := entries[1].Decode(&second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.ID != "c" || second.ID != "d" {
		t.Errorf("expected last two entries [c d], got [%s %s]", first.ID, second.ID)
	}
}

func TestQueryChildrenEqual(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"g1", "g2", "g3"} {
		key := st.Push("users/u1/groups")
		if err := st.Set(ctx, Join("users", "u1", "groups", key), map[string]string{"id": id}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	entries, err := st.QueryChildren(ctx, "users/u1/groups", Query{OrderBy: "id", Equal: "g2", Limit: 1})
	if err != nil {
		t.Fatalf("QueryChildren failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	var got struct {
		ID string `json:"id"`
	}
	if err := entries[0].Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "g2" {
		t.Errorf("expected g2, got %s", got.ID)
	}
}

func TestTransactionIncrement(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if err := st.Set(ctx, "users/u1", map[string]any{"id": "u1", "kudos": 0}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	increment := func(by int) error {
		return st.Transaction(ctx, "users/u1", func(current json.RawMessage) (any, error) {
			var doc map[string]any
			if err := json.Unmarshal(current, &doc); err != nil {
				return nil, err
			}
			kudos, _ := doc["kudos"].(float64)
			doc["kudos"] = int(kudos) + by
			return doc, nil
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := increment(1); err != nil {
				t.Errorf("Transaction failed: %v", err)
			}
		}()
	}
	wg.Wait()

	var got struct {
		Kudos int `json:"kudos"`
	}
	if err := st.Get(ctx, "users/u1", &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Kudos != 10 {
		t.Errorf("expected kudos 10, got %d", got.Kudos)
	}
}
