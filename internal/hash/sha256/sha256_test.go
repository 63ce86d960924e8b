package sha256

import "testing"

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got := h.Hash([]byte("hello world"))
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if again := h.Hash([]byte("hello world")); again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

func TestHasherHashJSON(t *testing.T) {
	t.Parallel()

	type row struct {
		Title string `json:"title"`
	}
	h := New()
	a, err := h.HashJSON([]row{{Title: "A"}, {Title: "B"}})
	if err != nil {
		t.Fatalf("HashJSON() error = %v", err)
	}
	if a != h.Hash([]byte(`[{"title":"A"},{"title":"B"}]`)) {
		t.Fatalf("expected digest of the JSON encoding, got %s", a)
	}
	b, err := h.HashJSON([]row{{Title: "B"}, {Title: "A"}})
	if err != nil {
		t.Fatalf("HashJSON() error = %v", err)
	}
	if a == b {
		t.Fatal("expected order to change the digest")
	}
	if _, err := h.HashJSON(make(chan int)); err == nil {
		t.Fatal("expected unsupported value to fail")
	}
}
