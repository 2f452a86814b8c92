package failure

import (
	"errors"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func TestUnexpectedStatusCarriesCallDetails(t *testing.T) {
	err := UnexpectedStatus("GET", "http://hub/channel/a/previous", []int{303}, 200)

	var r *goerrors.Error
	if !goerrors.As(err, &r) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if r.Category != goerrors.CategoryExternal {
		t.Errorf("expected external category, got %q", r.Category)
	}
	if Code(err) != CodeUnexpectedStatus {
		t.Errorf("expected %s, got %s", CodeUnexpectedStatus, Code(err))
	}
	md := Metadata(err)
	if md["method"] != "GET" || md["url"] != "http://hub/channel/a/previous" || md["actual"] != 200 {
		t.Errorf("unexpected metadata: %+v", md)
	}
	if Contract(err) != ContractHub {
		t.Errorf("expected hub contract, got %q", Contract(err))
	}
}

func TestNetworkWrapsSource(t *testing.T) {
	src := errors.New("connection refused")
	err := Network("POST", "http://hub/channel/a", src)
	if !Is(err, CodeNetwork) {
		t.Fatalf("expected network code, got %q", Code(err))
	}
	if !strings.Contains(err.Error(), "network error") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		expected []string
		actual   []string
		index    int
		want     string
		got      string
	}{
		{"equal", []string{"u1", "u2"}, []string{"u1", "u2"}, -1, "", ""},
		{"value mismatch", []string{"u1", "u2", "u3"}, []string{"u1", "uX", "u3"}, 1, "u2", "uX"},
		{"actual short", []string{"u1", "u2"}, []string{"u1"}, 1, "u2", Missing},
		{"actual long", []string{"u1"}, []string{"u1", "u2"}, 1, Missing, "u2"},
		{"both empty", nil, nil, -1, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Compare(ContractPaginationIdentity, tt.expected, tt.actual)
			if tt.index < 0 {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if !Is(err, CodeOrderDivergence) {
				t.Fatalf("expected divergence, got %v", err)
			}
			md := Metadata(err)
			if md["index"] != tt.index || md["expected"] != tt.want || md["actual"] != tt.got {
				t.Errorf("unexpected metadata: %+v", md)
			}
			if Contract(err) != ContractPaginationIdentity {
				t.Errorf("expected pagination contract, got %q", Contract(err))
			}
		})
	}
}

func TestTimeoutMergesObserved(t *testing.T) {
	err := Timeout(ContractDeliveryCount, 1500*time.Millisecond, map[string]any{
		"captured": 3,
		"expected": 5,
	})
	md := Metadata(err)
	if md["elapsed_ms"] != int64(1500) {
		t.Errorf("expected elapsed_ms=1500, got %v", md["elapsed_ms"])
	}
	if md["captured"] != 3 || md["expected"] != 5 {
		t.Errorf("observed counts missing: %+v", md)
	}
	if Contract(err) != ContractDeliveryCount {
		t.Errorf("expected delivery_count, got %q", Contract(err))
	}
}

func TestBoundary(t *testing.T) {
	lower := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err := Boundary(ContractEarliestBoundary, lower.Add(2*time.Hour), lower, lower.Add(time.Hour))
	if !Is(err, CodeBoundary) {
		t.Fatalf("expected boundary code, got %q", Code(err))
	}
	if Contract(err) != ContractEarliestBoundary {
		t.Errorf("expected earliest_boundary, got %q", Contract(err))
	}
}

func TestHelpersOnPlainErrors(t *testing.T) {
	plain := errors.New("boom")
	if Code(plain) != "" || Contract(plain) != "" || Metadata(plain) != nil {
		t.Error("expected empty results for a plain error")
	}
	if Is(nil, CodeTimeout) {
		t.Error("nil must not match any code")
	}
}

func TestMismatch(t *testing.T) {
	err := Mismatch("GET", "http://hub/channel/a", "description", "describe me", "")
	if !Is(err, CodeMismatch) {
		t.Fatalf("expected mismatch code, got %q", Code(err))
	}
	md := Metadata(err)
	if md["field"] != "description" || md["expected"] != "describe me" {
		t.Errorf("unexpected metadata: %+v", md)
	}
}
