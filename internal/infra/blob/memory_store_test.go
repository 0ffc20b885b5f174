//go:build !integration

package blob

import (
	"context"
	"errors"
	"testing"

	"content-batch/internal/domain"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("round trips by ref and by bare key", func(t *testing.T) {
		s := NewMemoryStore()
		ref, err := s.Put(ctx, "/artifacts/a.json", "application/json", []byte(`{"a":1}`))
		if err != nil {
			t.Fatalf("put: %v", err)
		}
		if ref != "s3://memory/artifacts/a.json" {
			t.Fatalf("ref = %q", ref)
		}
		for _, r := range []string{ref, "artifacts/a.json"} {
			b, err := s.Get(ctx, r)
			if err != nil || string(b) != `{"a":1}` {
				t.Fatalf("get %q = %q, %v", r, b, err)
			}
		}
	})

	t.Run("stored bytes do not alias the caller buffer", func(t *testing.T) {
		s := NewMemoryStore()
		buf := []byte("abc")
		ref, _ := s.Put(ctx, "k", "text/plain", buf)
		buf[0] = 'x'
		b, _ := s.Get(ctx, ref)
		if string(b) != "abc" {
			t.Fatalf("got %q", b)
		}
	})

	t.Run("missing key is not found and empty key is rejected", func(t *testing.T) {
		s := NewMemoryStore()
		if _, err := s.Get(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.Put(ctx, "", "", nil); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestSplitRef(t *testing.T) {
	cases := []struct{ ref, bucket, key string }{
		{"s3://b/k/x.json", "b", "k/x.json"},
		{"k/x.json", "def", "k/x.json"},
		{"s3://onlybucket", "def", "onlybucket"},
	}
	for _, c := range cases {
		b, k := splitRef(c.ref, "def")
		if b != c.bucket || k != c.key {
			t.Fatalf("splitRef(%q) = %q,%q", c.ref, b, k)
		}
	}
}
