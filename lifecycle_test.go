package offcache

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sort"
	"testing"
	"time"
)

func TestInstallActivatesFirstGeneration(t *testing.T) {
	net := newFakeNet()
	hooks := newRecordingHooks()
	e, st := newTestEngine(t, net, func(o *Options) { o.Hooks = hooks })

	if e.State() != StateNone {
		t.Fatalf("state = %s", e.State())
	}
	installGen(t, e, "v1", false)

	if e.State() != StateActive {
		t.Fatalf("state = %s, want active", e.State())
	}
	g, ok := e.Active()
	if !ok || g.Version != "v1" {
		t.Fatalf("Active = %+v, %v", g, ok)
	}
	if got, want := sortedNames(t, st), genSet("v1").Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names = %v, want %v", got, want)
	}
	if keys := cacheKeys(t, st, "static-v1"); len(keys) != len(testManifest) {
		t.Fatalf("static cache holds %d entries", len(keys))
	}
	if !reflect.DeepEqual(hooks.activated, []string{"v1"}) {
		t.Fatalf("activated = %v", hooks.activated)
	}
}

func TestInstallAbortsOnManifestFailure(t *testing.T) {
	net := newFakeNet()
	hooks := newRecordingHooks()
	e, st := newTestEngine(t, net, func(o *Options) { o.Hooks = hooks })
	installGen(t, e, "v1", true)

	net.serve("/api/budget", "budget")
	get(t, e, "/api/budget", "", "")
	settle(t, e)

	err := e.Install(context.Background(), Generation{
		Version:     "v2",
		Caches:      genSet("v2"),
		Manifest:    append(append([]string(nil), testManifest...), "/missing.js"),
		SkipWaiting: true,
	})
	if !errors.Is(err, ErrInstallAborted) {
		t.Fatalf("expected ErrInstallAborted, got %v", err)
	}
	var me *ManifestError
	if !errors.As(err, &me) || me.Status != http.StatusNotFound || me.URL != testOrigin+"/missing.js" {
		t.Fatalf("expected 404 ManifestError, got %v", err)
	}

	if e.State() != StateRedundant {
		t.Fatalf("state = %s, want redundant", e.State())
	}
	if g, _ := e.Active(); g.Version != "v1" {
		t.Fatalf("active = %s, want v1", g.Version)
	}
	for _, n := range sortedNames(t, st) {
		if genSet("v2").Has(n) {
			t.Fatalf("aborted install created cache %s", n)
		}
	}
	if !reflect.DeepEqual(hooks.aborted, []string{"v2"}) {
		t.Fatalf("aborted = %v", hooks.aborted)
	}

	// the old generation still answers offline
	net.setDown(true)
	if got := get(t, e, "/api/budget", "", ""); string(got.Body) != "budget" {
		t.Fatalf("old generation lost its api cache: %q", got.Body)
	}
	if got := get(t, e, "/index.html", "", ""); string(got.Body) != "asset /index.html" {
		t.Fatalf("old generation lost its static cache: %q", got.Body)
	}
}

func TestInstallNetworkErrorAborts(t *testing.T) {
	net := newFakeNet()
	e, st := newTestEngine(t, net, nil)
	net.failPath("/app.js")

	err := e.Install(context.Background(), Generation{Version: "v1", Caches: genSet("v1"), Manifest: testManifest})
	var me *ManifestError
	if !errors.As(err, &me) || !errors.Is(err, errNetDown) {
		t.Fatalf("expected fetch ManifestError, got %v", err)
	}
	if names := sortedNames(t, st); len(names) != 0 {
		t.Fatalf("caches created: %v", names)
	}
	if _, ok := e.Active(); ok {
		t.Fatalf("nothing must be active")
	}
}

func TestActivationLeavesExactlyNewGenerationNames(t *testing.T) {
	net := newFakeNet()
	e, st := newTestEngine(t, net, nil)
	installGen(t, e, "v1", true)

	// a cache from a release nobody remembers
	if _, err := st.Open(context.Background(), "budget-tracker-static-v1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	net.serve("/page", "p")
	get(t, e, "/page", "", "")
	settle(t, e)

	installGen(t, e, "v2", true)

	got := sortedNames(t, st)
	want := genSet("v2").Names()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Names = %v, want %v", got, want)
	}
}

func TestSharedCacheNameSurvivesActivation(t *testing.T) {
	net := newFakeNet()
	e, st := newTestEngine(t, net, nil)
	installGen(t, e, "v1", true)

	net.serve("/icons/a.png", "a")
	get(t, e, "/icons/a.png", DestinationImage, "")
	settle(t, e)

	v2 := genSet("v2")
	v2[RoleImage] = "images-v1"
	if err := e.Install(context.Background(), Generation{Version: "v2", Caches: v2, Manifest: testManifest, SkipWaiting: true}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if keys := cacheKeys(t, st, "images-v1"); len(keys) != 1 {
		t.Fatalf("image cache kept across generations lost entries: %v", keys)
	}
}

func TestWaitingGenerationActivatesWhenClientsRelease(t *testing.T) {
	net := newFakeNet()
	e, _ := newTestEngine(t, net, nil)
	installGen(t, e, "v1", false)

	client := e.Subscribe()
	installGen(t, e, "v2", false)

	if e.State() != StateWaiting {
		t.Fatalf("state = %s, want waiting", e.State())
	}
	if g, _ := e.Active(); g.Version != "v1" {
		t.Fatalf("active = %s, want v1 while a client holds it", g.Version)
	}

	client.Close()
	settle(t, e)
	if g, _ := e.Active(); g.Version != "v2" {
		t.Fatalf("active = %s, want v2 after release", g.Version)
	}
	if e.State() != StateActive {
		t.Fatalf("state = %s", e.State())
	}
}

func TestSkipWaitingClaimsOpenClients(t *testing.T) {
	net := newFakeNet()
	e, st := newTestEngine(t, net, nil)
	installGen(t, e, "v1", false)
	client := e.Subscribe()
	defer client.Close()

	installGen(t, e, "v2", true)
	if g, _ := e.Active(); g.Version != "v2" {
		t.Fatalf("active = %s, want v2", g.Version)
	}

	// the very next request is served by the new generation's caches
	net.serve("/page", "p")
	get(t, e, "/page", "", "")
	settle(t, e)
	if keys := cacheKeys(t, st, "dynamic-v2"); len(keys) != 1 {
		t.Fatalf("dynamic-v2 keys = %v", keys)
	}
}

func TestNewerInstallReplacesWaitingGeneration(t *testing.T) {
	net := newFakeNet()
	e, st := newTestEngine(t, net, nil)
	installGen(t, e, "v1", false)
	client := e.Subscribe()

	installGen(t, e, "v2", false)
	installGen(t, e, "v3", false)
	client.Close()
	settle(t, e)

	if g, _ := e.Active(); g.Version != "v3" {
		t.Fatalf("active = %s, want v3", g.Version)
	}
	names := sortedNames(t, st)
	want := genSet("v3").Names()
	sort.Strings(want)
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("Names = %v, want %v", names, want)
	}
}

func TestActivateWithoutWaitingGeneration(t *testing.T) {
	e, _ := newTestEngine(t, newFakeNet(), nil)
	if err := e.Activate(context.Background()); !errors.Is(err, ErrNothingWaiting) {
		t.Fatalf("expected ErrNothingWaiting, got %v", err)
	}
}

func TestInstallValidatesGeneration(t *testing.T) {
	e, _ := newTestEngine(t, newFakeNet(), nil)
	ctx := context.Background()

	if err := e.Install(ctx, Generation{}); err == nil {
		t.Fatalf("expected error for missing version")
	}
	dup := genSet("v1")
	dup[RoleImage] = dup[RoleStatic]
	if err := e.Install(ctx, Generation{Version: "v1", Caches: dup}); err == nil {
		t.Fatalf("expected error for duplicated cache name")
	}
	partial := GenerationSet{RoleStatic: "s"}
	if err := e.Install(ctx, Generation{Version: "v1", Caches: partial}); err == nil {
		t.Fatalf("expected error for missing roles")
	}
}

func TestLateWriteDoesNotRecreateDeletedCache(t *testing.T) {
	net := newFakeNet()
	logger := &captureLogger{}
	var gated *gatedStorage
	e, st := newTestEngine(t, net, func(o *Options) {
		gated = newGatedStorage(o.Storage, "api-v1")
		o.Storage = gated
		o.Logger = logger
	})
	installGen(t, e, "v1", true)

	net.serve("/api/transaction", `[]`)
	get(t, e, "/api/transaction", "", "")
	select {
	case <-gated.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("background write never reached the store")
	}

	// v2 activates while the v1 write is still in flight
	installGen(t, e, "v2", true)
	want := genSet("v2").Names()
	if got := sortedNames(t, st); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names after activation = %v, want %v", got, want)
	}

	warns := logger.count("warn")
	close(gated.release)
	settle(t, e)

	if got := sortedNames(t, st); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names after late write = %v, want %v", got, want)
	}
	if logger.count("warn") != warns || logger.count("error") != 0 {
		t.Fatalf("skipped write reported as failure: %v", logger.levels)
	}
}
