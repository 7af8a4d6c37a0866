package mem

import (
	"context"
	"errors"
	"testing"

	"github.com/mbehr1/cryptotrader/internal/domain"
)

func TestMissingKeyReturnsNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.GetString(ctx, "absent"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetInt64(ctx, "absent"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.SetString(ctx, "k", "v"); err != nil {
		t.Fatalf("set string: %v", err)
	}
	v, err := s.GetString(ctx, "k")
	if err != nil || v != "v" {
		t.Fatalf("expected \"v\", got %q err %v", v, err)
	}

	if err := s.SetInt64(ctx, "n", -42); err != nil {
		t.Fatalf("set int64: %v", err)
	}
	n, err := s.GetInt64(ctx, "n")
	if err != nil || n != -42 {
		t.Fatalf("expected -42, got %d err %v", n, err)
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.SetString(ctx, "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetString(ctx, "k"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting an absent key is a no-op.
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
}
