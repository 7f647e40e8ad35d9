package keylog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/unkn0wn-root/offcache/internal/sqlitedb"
)

type factory func(t *testing.T) KeyLog

func backends() map[string]factory {
	return map[string]factory{
		"local": func(t *testing.T) KeyLog {
			l := NewLocal()
			t.Cleanup(func() { _ = l.Close(context.Background()) })
			return l
		},
		"sqlite": func(t *testing.T) KeyLog {
			db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "keylog.db"))
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			l := NewSQLite(db, true)
			t.Cleanup(func() { _ = l.Close(context.Background()) })
			return l
		},
	}
}

func TestKeysFollowInsertionOrder(t *testing.T) {
	for name, newLog := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := newLog(t)

			mustCreate(t, l, "dynamic")
			var prev uint64
			for i := 0; i < 5; i++ {
				seq, err := l.Append(ctx, "dynamic", fmt.Sprintf("k%d", i))
				if err != nil {
					t.Fatal(err)
				}
				if seq <= prev {
					t.Fatalf("seq not increasing: %d after %d", seq, prev)
				}
				prev = seq
			}

			got, err := l.Keys(ctx, "dynamic")
			if err != nil {
				t.Fatal(err)
			}
			want := []string{"k0", "k1", "k2", "k3", "k4"}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("keys=%v want %v", got, want)
			}
		})
	}
}

func TestReappendMovesKeyToTail(t *testing.T) {
	for name, newLog := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := newLog(t)

			mustCreate(t, l, "api")
			for _, k := range []string{"a", "b", "c"} {
				if _, err := l.Append(ctx, "api", k); err != nil {
					t.Fatal(err)
				}
			}
			seq, err := l.Append(ctx, "api", "a")
			if err != nil {
				t.Fatal(err)
			}
			got, _ := l.Keys(ctx, "api")
			if want := []string{"b", "c", "a"}; !reflect.DeepEqual(got, want) {
				t.Fatalf("keys=%v want %v", got, want)
			}
			cur, ok, err := l.Seq(ctx, "api", "a")
			if err != nil || !ok || cur != seq {
				t.Fatalf("Seq(a)=%d ok=%v err=%v, want %d", cur, ok, err, seq)
			}
		})
	}
}

func TestRemoveAndSeqOfMissing(t *testing.T) {
	for name, newLog := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := newLog(t)

			if _, ok, err := l.Seq(ctx, "nope", "x"); err != nil || ok {
				t.Fatalf("Seq on unknown cache: ok=%v err=%v", ok, err)
			}
			mustCreate(t, l, "image")
			if _, err := l.Append(ctx, "image", "x"); err != nil {
				t.Fatal(err)
			}
			removed, err := l.Remove(ctx, "image", "x")
			if err != nil || !removed {
				t.Fatalf("Remove: removed=%v err=%v", removed, err)
			}
			removed, err = l.Remove(ctx, "image", "x")
			if err != nil || removed {
				t.Fatalf("second Remove should report false, removed=%v err=%v", removed, err)
			}
			if keys, _ := l.Keys(ctx, "image"); len(keys) != 0 {
				t.Fatalf("expected no keys, got %v", keys)
			}
		})
	}
}

func TestCachesCreateAndDrop(t *testing.T) {
	for name, newLog := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := newLog(t)

			if err := l.Create(ctx, "static-v1"); err != nil {
				t.Fatal(err)
			}
			mustCreate(t, l, "api-v1")
			if _, err := l.Append(ctx, "api-v1", "k"); err != nil {
				t.Fatal(err)
			}
			if err := l.Create(ctx, "static-v1"); err != nil { // idempotent
				t.Fatal(err)
			}

			names, err := l.Caches(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if want := []string{"static-v1", "api-v1"}; !reflect.DeepEqual(names, want) {
				t.Fatalf("caches=%v want %v", names, want)
			}

			dropped, err := l.Drop(ctx, "api-v1")
			if err != nil || !dropped {
				t.Fatalf("Drop: dropped=%v err=%v", dropped, err)
			}
			if keys, _ := l.Keys(ctx, "api-v1"); len(keys) != 0 {
				t.Fatalf("dropped cache still has keys: %v", keys)
			}
			names, _ = l.Caches(ctx)
			if want := []string{"static-v1"}; !reflect.DeepEqual(names, want) {
				t.Fatalf("caches after drop=%v want %v", names, want)
			}
			if dropped, _ := l.Drop(ctx, "api-v1"); dropped {
				t.Fatalf("second Drop should report false")
			}
		})
	}
}

func TestSQLiteLogSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keylog.db")

	db, err := sqlitedb.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	l := NewSQLite(db, true)
	mustCreate(t, l, "dynamic")
	for _, k := range []string{"x", "y"} {
		if _, err := l.Append(ctx, "dynamic", k); err != nil {
			t.Fatal(err)
		}
	}
	_ = l.Close(ctx)

	db, err = sqlitedb.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	l = NewSQLite(db, true)
	t.Cleanup(func() { _ = l.Close(ctx) })

	seq, err := l.Append(ctx, "dynamic", "z")
	if err != nil {
		t.Fatal(err)
	}
	if seq != 3 {
		t.Fatalf("seq after reopen = %d, want 3", seq)
	}
	got, _ := l.Keys(ctx, "dynamic")
	if want := []string{"x", "y", "z"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("keys=%v want %v", got, want)
	}
}

func TestAppendNeverRegistersCache(t *testing.T) {
	for name, newLog := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := newLog(t)

			if _, err := l.Append(ctx, "static-v1", "k"); !errors.Is(err, ErrNoCache) {
				t.Fatalf("Append to unknown cache: err=%v, want ErrNoCache", err)
			}
			mustCreate(t, l, "api-v1")
			if _, err := l.Append(ctx, "api-v1", "k"); err != nil {
				t.Fatal(err)
			}
			if _, err := l.Drop(ctx, "api-v1"); err != nil {
				t.Fatal(err)
			}

			// a write that raced the drop must not bring the name back
			if _, err := l.Append(ctx, "api-v1", "late"); !errors.Is(err, ErrNoCache) {
				t.Fatalf("Append after Drop: err=%v, want ErrNoCache", err)
			}
			names, err := l.Caches(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(names) != 0 {
				t.Fatalf("caches=%v, want none", names)
			}
			if keys, _ := l.Keys(ctx, "api-v1"); len(keys) != 0 {
				t.Fatalf("dropped cache gained keys: %v", keys)
			}
		})
	}
}

func mustCreate(t *testing.T, l KeyLog, cache string) {
	t.Helper()
	if err := l.Create(context.Background(), cache); err != nil {
		t.Fatalf("Create %s: %v", cache, err)
	}
}
