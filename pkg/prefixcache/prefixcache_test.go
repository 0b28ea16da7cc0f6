package prefixcache

import "testing"

// TestPrefixCountMonotonicity is property 5.
func TestPrefixCountMonotonicity(t *testing.T) {
	c := New()
	h := HashPrefix("the quick brown fox")

	for k := int64(1); k <= 5; k++ {
		got := c.Note(h)
		if got != k {
			t.Fatalf("Note call %d returned count %d, want %d", k, got, k)
		}
		wantCommon := k >= 2
		if c.IsCommon(h) != wantCommon {
			t.Fatalf("IsCommon after %d notes = %v, want %v", k, c.IsCommon(h), wantCommon)
		}
	}
}

func TestHashPrefixStableAndTruncated(t *testing.T) {
	short := "hello"
	if HashPrefix(short) != HashPrefix(short) {
		t.Fatalf("HashPrefix must be stable for the same input")
	}

	longPrefix := make([]byte, 256)
	for i := range longPrefix {
		longPrefix[i] = 'a'
	}
	a := string(longPrefix)
	b := a + "this tail must not affect the fingerprint"
	if HashPrefix(a) != HashPrefix(b) {
		t.Fatalf("HashPrefix must only consider the first 256 bytes")
	}
}

func TestPutGetTokens(t *testing.T) {
	c := New()
	h := HashPrefix("memoized prompt")
	if _, ok := c.GetTokens(h); ok {
		t.Fatalf("expected no memoized tokens before PutTokens")
	}
	want := []int32{1, 2, 3}
	c.PutTokens(h, want)
	got, ok := c.GetTokens(h)
	if !ok {
		t.Fatalf("expected memoized tokens after PutTokens")
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestIsCommonFalseForUnseenFingerprint(t *testing.T) {
	c := New()
	if c.IsCommon(HashPrefix("never seen")) {
		t.Fatalf("unseen fingerprint must not be common")
	}
}
