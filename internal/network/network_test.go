package network

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

type scriptedLink struct {
	upAfter int
	calls   int
	err     error
}

func (l *scriptedLink) Status() (Status, error) {
	l.calls++
	if l.upAfter > 0 && l.calls >= l.upAfter {
		return Status{Up: true, Interface: "wlan0", IP: net.IPv4(192, 168, 1, 20)}, nil
	}
	return Status{}, l.err
}

func fastBackoff(retries int) Backoff {
	return Backoff{
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
		MaxRetries:   retries,
	}
}

func TestWaitReady_UpImmediately(t *testing.T) {
	link := &scriptedLink{upAfter: 1}
	st, err := WaitReady(context.Background(), link, fastBackoff(3), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.Up || st.IP.String() != "192.168.1.20" {
		t.Fatalf("unexpected status: %+v", st)
	}
	if link.calls != 1 {
		t.Fatalf("expected 1 probe, got %d", link.calls)
	}
}

func TestWaitReady_UpAfterRetries(t *testing.T) {
	link := &scriptedLink{upAfter: 4}
	if _, err := WaitReady(context.Background(), link, fastBackoff(5), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if link.calls != 4 {
		t.Fatalf("expected 4 probes, got %d", link.calls)
	}
}

func TestWaitReady_Exhausted(t *testing.T) {
	probeErr := errors.New("no carrier")
	link := &scriptedLink{err: probeErr}
	_, err := WaitReady(context.Background(), link, fastBackoff(3), nil)
	if !errors.Is(err, ErrNetworkUnavailable) {
		t.Fatalf("expected ErrNetworkUnavailable, got %v", err)
	}
	if !errors.Is(err, probeErr) {
		t.Fatalf("expected probe error to be wrapped, got %v", err)
	}
	if link.calls != 3 {
		t.Fatalf("expected 3 probes, got %d", link.calls)
	}
}

func TestWaitReady_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	link := &scriptedLink{}
	b := Backoff{InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2, MaxRetries: 5}
	_, err := WaitReady(ctx, link, b, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrNetworkUnavailable) {
		t.Fatal("cancellation must not be reported as network unavailable")
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := Backoff{}.withDefaults()
	if b != DefaultBackoff() {
		t.Fatalf("expected defaults, got %+v", b)
	}
}

type fakeAddr string

func (a fakeAddr) Network() string { return "ip+net" }
func (a fakeAddr) String() string  { return string(a) }

func newFakeLink(name string, itfs []net.Interface, addrs map[string][]net.Addr) *InterfaceLink {
	return &InterfaceLink{
		Name:       name,
		interfaces: func() ([]net.Interface, error) { return itfs, nil },
		addrs: func(itf net.Interface) ([]net.Addr, error) {
			return addrs[itf.Name], nil
		},
	}
}

func TestInterfaceLink(t *testing.T) {
	itfs := []net.Interface{
		{Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
		{Name: "docker0", Flags: net.FlagUp},
		{Name: "eth0", Flags: 0},
		{Name: "wlan0", Flags: net.FlagUp},
	}
	addrs := map[string][]net.Addr{
		"lo":      {fakeAddr("127.0.0.1/8")},
		"docker0": {fakeAddr("172.17.0.1/16")},
		"eth0":    {fakeAddr("10.0.0.5/24")},
		"wlan0":   {fakeAddr("fe80::1/64"), fakeAddr("192.168.1.20/24")},
	}

	tests := []struct {
		name   string
		itf    string
		wantUp bool
		wantIP string
	}{
		{"named up interface", "wlan0", true, "192.168.1.20"},
		{"named down interface", "eth0", false, ""},
		{"missing interface", "wlan1", false, ""},
		{"any interface skips loopback and docker", "", true, "192.168.1.20"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := newFakeLink(tt.itf, itfs, addrs).Status()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if st.Up != tt.wantUp {
				t.Fatalf("expected up=%v, got %+v", tt.wantUp, st)
			}
			if tt.wantUp && st.IP.String() != tt.wantIP {
				t.Fatalf("expected ip %s, got %s", tt.wantIP, st.IP)
			}
		})
	}
}

func TestInterfaceLink_IPv6Only(t *testing.T) {
	itfs := []net.Interface{{Name: "wlan0", Flags: net.FlagUp}}
	addrs := map[string][]net.Addr{"wlan0": {fakeAddr("fe80::1/64")}}

	st, err := newFakeLink("wlan0", itfs, addrs).Status()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Up {
		t.Fatalf("link without IPv4 must not be up: %+v", st)
	}
}
