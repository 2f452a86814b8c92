package webhook

import (
	"slices"
	"testing"
)

func TestExpect(t *testing.T) {
	seeded := []string{"s1", "s2", "s3"}
	inserted := []string{"n1", "n2"}

	tests := []struct {
		name  string
		start StartItem
		want  []string
	}{
		{"continue", StartItem{Policy: Continue}, []string{"n1", "n2"}},
		{"previous", StartItem{Policy: Previous, ReplayCount: 1}, []string{"s3", "n1", "n2"}},
		{"previous two", StartItem{Policy: Previous, ReplayCount: 2}, []string{"s2", "s3", "n1", "n2"}},
		{"previous more than seeded", StartItem{Policy: Previous, ReplayCount: 9}, []string{"s1", "s2", "s3", "n1", "n2"}},
		{"earliest", StartItem{Policy: Earliest}, []string{"s1", "s2", "s3", "n1", "n2"}},
		{"exact", StartItem{Policy: Exact, Anchor: "s1"}, []string{"s2", "s3", "n1", "n2"}},
		{"exact last", StartItem{Policy: Exact, Anchor: "s3"}, []string{"n1", "n2"}},
		{"exact unknown", StartItem{Policy: Exact, Anchor: "zz"}, []string{"n1", "n2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Expect(tt.start, seeded, inserted); !slices.Equal(got, tt.want) {
				t.Errorf("Expect = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLiteralPreviousScenario(t *testing.T) {
	seeded := []string{"throwaway", "seed_item_2"}
	inserted := []string{"new_1", "new_2", "new_3", "new_4"}

	got := Expect(StartItem{Policy: Previous, ReplayCount: 1}, seeded, inserted)
	want := []string{"seed_item_2", "new_1", "new_2", "new_3", "new_4"}
	if !slices.Equal(got, want) {
		t.Errorf("Expect = %v, want %v", got, want)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", Continue, false},
		{"none", Continue, false},
		{"Previous", Previous, false},
		{" earliest ", Earliest, false},
		{"exact", Exact, false},
		{"sometimes", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestStartItemValue(t *testing.T) {
	tests := []struct {
		start StartItem
		want  string
	}{
		{StartItem{Policy: Continue}, ""},
		{StartItem{Policy: Previous}, "previous"},
		{StartItem{Policy: Earliest}, "earliest"},
		{StartItem{Policy: Exact, Anchor: "http://hub/channel/c/x"}, "http://hub/channel/c/x"},
	}
	for _, tt := range tests {
		if got := tt.start.Value(); got != tt.want {
			t.Errorf("%+v.Value() = %q, want %q", tt.start, got, tt.want)
		}
	}
}

func TestPayloadURIs(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{"delivery", `{"name":"w","uris":["a","b"],"type":"item"}`, []string{"a", "b"}},
		{"empty uris", `{"uris":[]}`, []string{}},
		{"plain text", "  http://hub/channel/c/x\n", []string{"http://hub/channel/c/x"}},
		{"json without uris", `{"id":1}`, []string{`{"id":1}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PayloadURIs(tt.payload); !slices.Equal(got, tt.want) {
				t.Errorf("PayloadURIs = %q, want %q", got, tt.want)
			}
		})
	}

	got := Identities([]string{`{"uris":["a"]}`, "b", `{"uris":["c","d"]}`})
	if want := []string{"a", "b", "c", "d"}; !slices.Equal(got, want) {
		t.Errorf("Identities = %v, want %v", got, want)
	}
}
