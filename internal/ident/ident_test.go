package ident_test

import (
	"testing"

	"github.com/calvinalkan/syncstore/internal/ident"
)

func Test_NewGUID_Is_Valid_And_Unique(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}

	for i := 0; i < 100; i++ {
		guid, err := ident.NewGUID()
		if err != nil {
			t.Fatalf("new guid: %v", err)
		}

		if !ident.ValidGUID(guid) {
			t.Fatalf("generated guid %q is not valid", guid)
		}

		if seen[guid] {
			t.Fatalf("guid %q repeated", guid)
		}

		seen[guid] = true
	}
}

func Test_ValidGUID_Rejects_Garbage(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "nope", "1234"} {
		if ident.ValidGUID(s) {
			t.Fatalf("%q reported valid", s)
		}
	}
}

func Test_ServerTimestamp_Converts_To_Milliseconds(t *testing.T) {
	t.Parallel()

	ts := ident.ServerTimestamp(12344321.5)

	if got := ts.AsMs(); got != ident.MsTime(12344321500) {
		t.Fatalf("as ms = %d", got)
	}
}

func Test_NowMs_Is_Monotonic_Enough(t *testing.T) {
	t.Parallel()

	a := ident.NowMs()
	b := ident.NowMs()

	if b < a {
		t.Fatalf("time went backwards: %d then %d", a, b)
	}

	if a.Time().UnixMilli() != int64(a) {
		t.Fatalf("round trip through time.Time lost precision")
	}
}
