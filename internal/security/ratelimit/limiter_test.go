package ratelimit

import (
	"testing"
	"time"
)

func TestAllowIsPerTenant(t *testing.T) {
	l := NewLimiter(2, time.Minute)
	defer l.Stop()

	if !l.Allow("acme") || !l.Allow("acme") {
		t.Fatal("expected first two acme requests to pass")
	}
	if l.Allow("acme") {
		t.Fatal("expected third acme request to be limited")
	}
	if !l.Allow("beta") {
		t.Fatal("expected beta to have its own bucket")
	}
	if !l.Allow("") {
		t.Fatal("expected unresolved requests to pass")
	}
}

func TestWindowSlides(t *testing.T) {
	l := NewLimiter(1, 20*time.Millisecond)
	defer l.Stop()

	if !l.Allow("acme") {
		t.Fatal("expected first request to pass")
	}
	if l.Allow("acme") {
		t.Fatal("expected second request to be limited")
	}
	time.Sleep(30 * time.Millisecond)
	if !l.Allow("acme") {
		t.Fatal("expected request to pass once the window moved")
	}
}

func TestStrictLimitIsSeparate(t *testing.T) {
	l := NewLimiter(0, time.Minute)
	defer l.Stop()

	if !l.Allow("acme") {
		t.Fatal("expected disabled tenant limit to pass")
	}
	if !l.AllowStrict("10.0.0.1", 1, time.Minute) {
		t.Fatal("expected first login attempt to pass")
	}
	if l.AllowStrict("10.0.0.1", 1, time.Minute) {
		t.Fatal("expected second login attempt to be limited")
	}
}
