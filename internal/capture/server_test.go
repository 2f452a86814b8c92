package capture

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wondertwin-ai/hubverify/internal/failure"
)

func startTest(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	s, err := Start(opts)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func post(t *testing.T, url, body string) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

// ---------------------------------------------------------------------------
// Capture
// ---------------------------------------------------------------------------

func TestCapturesInArrivalOrder(t *testing.T) {
	var received []Entry
	var mu sync.Mutex
	s := startTest(t, Options{
		PathPrefix: "/abcde",
		OnReceive: func(e Entry) {
			mu.Lock()
			received = append(received, e)
			mu.Unlock()
		},
	})

	for i := range 3 {
		if code := post(t, s.URL(), fmt.Sprintf(`{"n":%d}`, i)); code != http.StatusOK {
			t.Fatalf("expected 200, got %d", code)
		}
	}

	entries := s.Log().Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Seq != i {
			t.Errorf("entry %d: expected seq %d, got %d", i, i, e.Seq)
		}
		if e.Payload != fmt.Sprintf(`{"n":%d}`, i) {
			t.Errorf("entry %d: unexpected payload %q", i, e.Payload)
		}
		if e.Path != "/abcde" {
			t.Errorf("entry %d: unexpected path %q", i, e.Path)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Errorf("expected OnReceive called 3 times, got %d", len(received))
	}
}

func TestIgnoresPathsOutsidePrefix(t *testing.T) {
	s := startTest(t, Options{PathPrefix: "/hook"})
	base := strings.TrimSuffix(s.URL(), "/hook")

	if code := post(t, base+"/other", "x"); code != http.StatusNotFound {
		t.Errorf("expected 404 outside prefix, got %d", code)
	}
	if code := post(t, s.URL()+"/nested", "y"); code != http.StatusOK {
		t.Errorf("expected 200 under prefix, got %d", code)
	}
	if got := s.Log().Payloads(); len(got) != 1 || got[0] != "y" {
		t.Errorf("unexpected payloads: %v", got)
	}
}

func TestConcurrentDeliveriesCapturedExactlyOnce(t *testing.T) {
	var calls atomic.Int32
	s := startTest(t, Options{
		PathPrefix: "/cb",
		OnReceive:  func(Entry) { calls.Add(1) },
	})

	const n = 50
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(s.URL(), "text/plain", strings.NewReader(fmt.Sprintf("item-%02d", i)))
			if err != nil {
				t.Errorf("delivery %d: %v", i, err)
				return
			}
			resp.Body.Close()
		}()
	}
	wg.Wait()

	entries := s.Log().Entries()
	if len(entries) != n {
		t.Fatalf("expected %d entries, got %d", n, len(entries))
	}
	seen := make(map[string]bool, n)
	for i, e := range entries {
		if e.Seq != i {
			t.Errorf("expected monotonic seq %d, got %d", i, e.Seq)
		}
		if seen[e.Payload] {
			t.Errorf("duplicate payload %q", e.Payload)
		}
		seen[e.Payload] = true
	}
	if calls.Load() != n {
		t.Errorf("expected %d OnReceive calls, got %d", n, calls.Load())
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestCloseIsIdempotent(t *testing.T) {
	s, err := Start(Options{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("first Close() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

func TestCloseNeverStarted(t *testing.T) {
	var s *Server
	if err := s.Close(); err != nil {
		t.Errorf("nil Close() error: %v", err)
	}
	var zero Server
	if err := zero.Close(); err != nil {
		t.Errorf("zero Close() error: %v", err)
	}
	if s.Log().Len() != 0 {
		t.Error("expected empty log from nil server")
	}
}

func TestCloseReleasesPort(t *testing.T) {
	s, err := Start(Options{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	addr := s.Addr()
	s.Close()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("expected port %s to be free after Close, got %v", addr, err)
	}
	ln.Close()
}

func TestCloseWithDeliveryInFlight(t *testing.T) {
	release := make(chan struct{})
	s, err := Start(Options{
		Addr:            "127.0.0.1:0",
		ShutdownTimeout: 50 * time.Millisecond,
		OnReceive:       func(Entry) { <-release },
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer close(release)

	go http.Post(s.URL()+"/x", "text/plain", strings.NewReader("slow"))
	deadline := time.Now().Add(2 * time.Second)
	for s.Log().Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close() error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Close() blocked on an in-flight delivery")
	}
}

func TestStartBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	_, err = Start(Options{Addr: ln.Addr().String()})
	if !failure.Is(err, failure.CodeNetwork) {
		t.Fatalf("expected network error for a taken port, got %v", err)
	}
}
