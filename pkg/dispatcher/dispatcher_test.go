package dispatcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streamrelay/ipxcore/pkg/providerpool"
	"github.com/streamrelay/ipxcore/pkg/sharedstream"
)

func testPool(t *testing.T, url string) *providerpool.ProviderPool {
	t.Helper()
	return providerpool.New([]providerpool.InputConfig{
		{ID: 1, Name: "news", Enabled: true, URL: url, Username: "u", Password: "p", MaxConnections: 2},
	}, 50, 5, nil)
}

func TestStreamPermissionGateReturnsCustomStream(t *testing.T) {
	pool := testPool(t, "http://upstream.example")
	d := New(pool, sharedstream.New(nil), nil, DefaultConfig(), nil)

	details, err := d.Stream(context.Background(), StreamRequest{
		InputName:            "news",
		Kind:                 Live,
		ConnectionPermission: PermissionExhausted,
		RequestedURL:         "http://upstream.example/live/u/p/1.ts",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if details.FinalURL != "user-connections-exhausted" {
		t.Fatalf("expected user-connections-exhausted custom stream, got %q", details.FinalURL)
	}
}

func TestStreamReleasesHandleOnChannelUnavailable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	pool := testPool(t, upstream.URL)
	cfg := DefaultConfig()
	cfg.Retry.MaxAttempts = 1
	d := New(pool, sharedstream.New(nil), nil, cfg, nil)

	details, err := d.Stream(context.Background(), StreamRequest{
		ClientFingerprint:    "client-1",
		InputName:            "news",
		Kind:                 Movie,
		ConnectionPermission: PermissionAllowed,
		RequestedURL:         upstream.URL + "/movie/u/p/1.mp4",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if details.FinalURL != "channel-unavailable" {
		t.Fatalf("expected channel-unavailable, got %q", details.FinalURL)
	}

	if active := pool.ActiveConnections(); len(active) != 0 {
		t.Fatalf("expected the handle to be released, got active connections: %v", active)
	}
}

func TestStreamRetriesWithRetryAfterThenSucceeds(t *testing.T) {
	var attempts int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("payload"))
	}))
	defer upstream.Close()

	pool := testPool(t, upstream.URL)
	cfg := DefaultConfig()
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.BaseDelay = time.Millisecond
	d := New(pool, sharedstream.New(nil), nil, cfg, nil)

	details, err := d.Stream(context.Background(), StreamRequest{
		ClientFingerprint:    "client-2",
		InputName:            "news",
		Kind:                 Movie,
		ConnectionPermission: PermissionAllowed,
		RequestedURL:         upstream.URL + "/movie/u/p/1.mp4",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if details.Status != http.StatusOK {
		t.Fatalf("expected eventual 200, got %d", details.Status)
	}
	body, _ := io.ReadAll(details.Body)
	details.Body.Close()
	if string(body) != "payload" {
		t.Fatalf("unexpected body: %q", body)
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}

	if active := pool.ActiveConnections(); len(active) != 0 {
		t.Fatalf("expected handle released after body close, got: %v", active)
	}
}

// fakeProvisioner simulates an external panel-API call: on grant, it frees
// the capacity releaseTarget is holding (standing in for provisioning a
// new slot), mirroring how a real hook's side effect happens entirely
// outside this module.
type fakeProvisioner struct {
	called        int32
	grant         bool
	pool          *providerpool.ProviderPool
	releaseTarget string
}

func (f *fakeProvisioner) Provision(ctx context.Context, inputName string) error {
	atomic.AddInt32(&f.called, 1)
	if !f.grant {
		return errProvisioningDenied
	}
	f.pool.Release(f.releaseTarget)
	return nil
}

var errProvisioningDenied = errors.New("provisioning denied")

func TestStreamProvisioningHookRetriesAfterExhaustion(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	pool := providerpool.New([]providerpool.InputConfig{
		{ID: 1, Name: "news", Enabled: true, URL: upstream.URL, Username: "u", Password: "p", MaxConnections: 1},
	}, 0, 5, nil)
	// Saturate the single slot so the next Acquire reports Exhausted.
	_ = pool.Acquire("news", "holder")

	d := New(pool, sharedstream.New(nil), nil, DefaultConfig(), nil)
	hook := &fakeProvisioner{grant: true, pool: pool, releaseTarget: "holder"}
	d.SetProvisioningHook(hook)

	details, err := d.Stream(context.Background(), StreamRequest{
		ClientFingerprint:    "client-3",
		InputName:            "news",
		Kind:                 Movie,
		ConnectionPermission: PermissionAllowed,
		RequestedURL:         upstream.URL + "/movie/u/p/1.mp4",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&hook.called) != 1 {
		t.Fatalf("expected provisioning hook to be consulted once, got %d", hook.called)
	}
	if details.FinalURL == "provider-connections-exhausted" {
		t.Fatalf("expected provisioning retry to succeed, got exhausted stream")
	}
	details.Body.Close()
}

func TestStreamProvisioningHookDeniedFallsBackToExhausted(t *testing.T) {
	pool := providerpool.New([]providerpool.InputConfig{
		{ID: 1, Name: "news", Enabled: true, URL: "http://upstream.example", Username: "u", Password: "p", MaxConnections: 1},
	}, 0, 5, nil)
	_ = pool.Acquire("news", "holder")

	d := New(pool, sharedstream.New(nil), nil, DefaultConfig(), nil)
	hook := &fakeProvisioner{grant: false}
	d.SetProvisioningHook(hook)

	details, err := d.Stream(context.Background(), StreamRequest{
		ClientFingerprint:    "client-4",
		InputName:            "news",
		Kind:                 Movie,
		ConnectionPermission: PermissionAllowed,
		RequestedURL:         "http://upstream.example/movie/u/p/1.mp4",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&hook.called) != 1 {
		t.Fatalf("expected provisioning hook to be consulted once, got %d", hook.called)
	}
	if details.FinalURL != "provider-connections-exhausted" {
		t.Fatalf("expected provider-connections-exhausted, got %q", details.FinalURL)
	}
}

func TestAuthFailureResponseHonorsConfig(t *testing.T) {
	pool := testPool(t, "http://upstream.example")

	cfg := DefaultConfig()
	d := New(pool, sharedstream.New(nil), nil, cfg, nil)
	if got := d.AuthFailureResponse(); got.Status != http.StatusForbidden {
		t.Fatalf("expected 403 by default, got status %d", got.Status)
	}

	cfg.AccountExpiredAsStream = true
	d = New(pool, sharedstream.New(nil), nil, cfg, nil)
	got := d.AuthFailureResponse()
	if got.Status != http.StatusOK || got.FinalURL != "account-expired" {
		t.Fatalf("expected account-expired custom stream, got status %d url %q", got.Status, got.FinalURL)
	}
}

func TestRewriteURLReplacesHostAndCredentials(t *testing.T) {
	provider := providerpool.NewProviderConfig(1, "alt", "http://alt.example:8080", "altuser", "altpass", 0, 0, nil)
	got := rewriteURL("http://orig.example/live/origuser/origpass/123.ts", provider)
	want := "http://alt.example:8080/live/altuser/altpass/123.ts"
	if got != want {
		t.Fatalf("rewriteURL: got %q, want %q", got, want)
	}
}
