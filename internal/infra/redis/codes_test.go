package redis

import (
	"context"
	"testing"
	"time"
)

func TestCodesReserveIsExclusive(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	codes := NewCodes(client, time.Minute)

	ok, err := codes.Reserve(ctx, "ABC234", "s1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !ok {
		t.Fatalf("expected first reservation to succeed")
	}

	ok, err = codes.Reserve(ctx, "ABC234", "s2")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if ok {
		t.Fatalf("expected second reservation to fail")
	}

	if err := codes.Release(ctx, "ABC234"); err != nil {
		t.Fatalf("release: %v", err)
	}

	ok, err = codes.Reserve(ctx, "ABC234", "s3")
	if err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
	if !ok {
		t.Fatalf("expected reservation to succeed after release")
	}
}
