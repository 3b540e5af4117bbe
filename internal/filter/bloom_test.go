package filter

import (
	"fmt"
	"testing"
)

func buildFilter(t *testing.T, bitsPerKey, n int) *Filter {
	t.Helper()
	b := NewBuilder(bitsPerKey)
	for i := 0; i < n; i++ {
		b.Add([]byte(fmt.Sprintf("key%06d", i)))
	}
	f := Decode(b.Finish())
	if f == nil {
		t.Fatal("Decode returned nil for a built filter")
	}
	return f
}

func TestBloomNoFalseNegatives(t *testing.T) {
	for _, n := range []int{1, 10, 1000, 10000} {
		f := buildFilter(t, 10, n)
		for i := 0; i < n; i++ {
			key := []byte(fmt.Sprintf("key%06d", i))
			if !f.MayContain(key) {
				t.Fatalf("n=%d: added key %q reported absent", n, key)
			}
		}
	}
}

func TestBloomFalsePositiveRate(t *testing.T) {
	const n = 10000
	f := buildFilter(t, 10, n)

	falsePositives := 0
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("other%06d", i))
		if f.MayContain(key) {
			falsePositives++
		}
	}
	// 10 bits per key targets about 1%; allow generous slack.
	if rate := float64(falsePositives) / n; rate > 0.05 {
		t.Errorf("false positive rate %.4f, want <= 0.05", rate)
	}
}

func TestBloomEmptyBuilder(t *testing.T) {
	b := NewBuilder(10)
	if got := b.Finish(); got != nil {
		t.Errorf("Finish with no keys = %v, want nil", got)
	}
}

func TestBloomDecodeRejectsGarbage(t *testing.T) {
	badProbes := make([]byte, blockSize+trailerLen)
	badProbes[len(badProbes)-1] = formatMarker // marker valid, probe count 0

	cases := [][]byte{
		nil,
		{},
		{1, 2, 3},
		make([]byte, blockSize+trailerLen), // missing format marker
		badProbes,
	}
	for _, data := range cases {
		if f := Decode(data); f != nil {
			t.Errorf("Decode(%d bytes) = %v, want nil", len(data), f)
		}
	}
}

func TestBloomNilFilterNeverFilters(t *testing.T) {
	var f *Filter
	if !f.MayContain([]byte("anything")) {
		t.Error("nil filter must report MayContain true")
	}
}

func TestBloomBuilderResetAfterFinish(t *testing.T) {
	b := NewBuilder(10)
	b.Add([]byte("a"))
	b.Finish()
	if b.Len() != 0 {
		t.Errorf("Len after Finish = %d, want 0", b.Len())
	}
}

func TestBloomRoundTripEncoding(t *testing.T) {
	b := NewBuilder(10)
	b.Add([]byte("present"))
	data := b.Finish()

	f := Decode(data)
	if f == nil {
		t.Fatal("Decode returned nil")
	}
	if !f.MayContain([]byte("present")) {
		t.Error("round-tripped filter lost its key")
	}
}
