package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kalambet/chirpd/internal/social"
	"github.com/kalambet/chirpd/internal/storage"
)

func exerciseCache(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = %v, %v; want false, nil", ok, err)
	}
	if err := c.Set(ctx, LastPostKey("a1"), "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set(ctx, LastPostKey("a1"), "v2"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	v, ok, err := c.Get(ctx, LastPostKey("a1"))
	if err != nil || !ok || v != "v2" {
		t.Errorf("Get = %q, %v, %v; want v2", v, ok, err)
	}
}

func TestStoreCache(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	exerciseCache(t, NewStoreCache(s))
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exerciseCache(t, NewRedisCache(client, "chirpd:"))

	if got, err := mr.Get("chirpd:last_post:a1"); err != nil || got != "v2" {
		t.Errorf("raw redis value = %q, %v", got, err)
	}
}

func TestRedisCache_ServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	if _, _, err := NewRedisCache(client, "").Get(context.Background(), "k"); err == nil {
		t.Fatal("expected error with redis down")
	}
}

func TestTimelineCache(t *testing.T) {
	c := NewTimelineCache(3)
	for _, id := range []string{"1", "2", "3", "4"} {
		c.Append("a1", social.Item{ID: id})
	}
	c.Append("a2", social.Item{ID: "x"})

	got := c.Recent("a1", 0)
	if len(got) != 3 || got[0].ID != "4" || got[2].ID != "2" {
		t.Errorf("Recent(a1) = %+v, want 4,3,2", got)
	}
	if got := c.Recent("a1", 1); len(got) != 1 || got[0].ID != "4" {
		t.Errorf("Recent(a1, 1) = %+v", got)
	}
	if got := c.Recent("nobody", 5); len(got) != 0 {
		t.Errorf("Recent(nobody) = %+v", got)
	}
}
