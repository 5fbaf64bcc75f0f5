package store

import (
	"context"
	"testing"
)

func TestPushSubscribe(t *testing.T) {
	f := setupTaskTest(t)
	ps := NewPushStore(f.db)
	ctx := context.Background()

	sub, err := ps.Subscribe(ctx, f.anna, f.hid, "https://push.example.com/sub1", "p256dh_key1", "auth_key1", "Chrome Desktop")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if sub.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if sub.DeviceName != "Chrome Desktop" {
		t.Errorf("device_name = %q, want %q", sub.DeviceName, "Chrome Desktop")
	}
}

func TestPushSubscribeUpsert(t *testing.T) {
	f := setupTaskTest(t)
	ps := NewPushStore(f.db)
	ctx := context.Background()

	sub1, _ := ps.Subscribe(ctx, f.anna, f.hid, "https://push.example.com/sub1", "key1", "auth1", "Device A")
	sub2, err := ps.Subscribe(ctx, f.anna, f.hid, "https://push.example.com/sub1", "key2", "auth2", "Device B")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if sub2.ID != sub1.ID {
		t.Errorf("expected same ID on upsert, got %d != %d", sub2.ID, sub1.ID)
	}
	if sub2.P256dhKey != "key2" {
		t.Errorf("p256dh = %q, want %q", sub2.P256dhKey, "key2")
	}
}

func TestPushListAndDelete(t *testing.T) {
	f := setupTaskTest(t)
	ps := NewPushStore(f.db)
	ctx := context.Background()

	a, _ := ps.Subscribe(ctx, f.anna, f.hid, "https://push.example.com/a", "k", "a", "")
	ps.Subscribe(ctx, f.anna, f.hid, "https://push.example.com/b", "k", "a", "")
	ps.Subscribe(ctx, f.ben, f.hid, "https://push.example.com/c", "k", "a", "")

	subs, err := ps.ListByUser(ctx, f.anna)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("subs = %d, want 2", len(subs))
	}

	if ok, _ := ps.Delete(ctx, f.ben, a.ID); ok {
		t.Error("another user deleted anna's subscription")
	}
	if ok, err := ps.Delete(ctx, f.anna, a.ID); err != nil || !ok {
		t.Errorf("delete = %v, %v; want true", ok, err)
	}
	if err := ps.DeleteByEndpoint(ctx, "https://push.example.com/b"); err != nil {
		t.Fatalf("delete by endpoint: %v", err)
	}
	subs, _ = ps.ListByUser(ctx, f.anna)
	if len(subs) != 0 {
		t.Errorf("subs after delete = %d, want 0", len(subs))
	}
}
