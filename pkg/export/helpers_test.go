package export

import (
	"testing"

	"github.com/srodi/csprof/pkg/types"
)

func TestCStr(t *testing.T) {
	cases := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"noNull", []byte{'a', 'b'}, "ab"},
		{"withNull", []byte{'a', 'b', 0, 'c'}, "ab"},
		{"empty", []byte{0, 'x'}, ""},
	}
	for _, tc := range cases {
		if got := cStr(tc.input); got != tc.expected {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.expected, got)
		}
	}
}

func TestEncodeDecodeKeepsCounters(t *testing.T) {
	row := types.ThreadStat{
		Slot:       3,
		OSThreadID: 4242,
		Start:      10,
		Stop:       90,
		CSTime:     25,
		WaitTime:   5,
		CSStart:    40,
		Name:       "a-name-longer-than-sixteen-bytes",
	}
	v := encode(row)
	if v.Flags&flagUsed == 0 {
		t.Fatalf("encoded value must be flagged used")
	}
	got := decode(3, v)
	if got.Name != "a-name-longer-t" {
		t.Fatalf("expected name cut to 15 bytes, got %q", got.Name)
	}
	got.Name = row.Name
	if got != row {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, row)
	}
}
