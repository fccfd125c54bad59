package token

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rkhiriev/vaultengine/internal/vaulterrors"
)

func TestNoneDriver_AlwaysAbsent(t *testing.T) {
	var d NoneDriver
	ctx := context.Background()

	if d.IsPresent(ctx) {
		t.Fatalf("expected NoneDriver to never be present")
	}
	if _, err := d.Info(ctx); !isKind(err, vaulterrors.KindTokenNotPresent) {
		t.Fatalf("expected KindTokenNotPresent, got %v", err)
	}
	if _, err := d.ChallengeResponse(ctx, []byte("chal"), true, time.Second); !isKind(err, vaulterrors.KindTokenNotPresent) {
		t.Fatalf("expected KindTokenNotPresent, got %v", err)
	}
}

func TestHMACDriver_DeterministicResponse(t *testing.T) {
	ctx := context.Background()
	d := NewHMACDriver([]byte("device-secret"), Info{Serial: "YK-0001"})

	challenge := []byte("fixed-challenge")
	r1, err := d.ChallengeResponse(ctx, challenge, true, time.Second)
	if err != nil {
		t.Fatalf("ChallengeResponse error: %v", err)
	}
	r2, err := d.ChallengeResponse(ctx, challenge, true, time.Second)
	if err != nil {
		t.Fatalf("ChallengeResponse error: %v", err)
	}
	if !bytes.Equal(r1, r2) {
		t.Fatalf("expected deterministic response for same challenge")
	}
	if len(r1) != 32 {
		t.Fatalf("expected 32-byte HMAC-SHA256 output, got %d", len(r1))
	}
}

func TestHMACDriver_DifferentChallengesDiffer(t *testing.T) {
	ctx := context.Background()
	d := NewHMACDriver([]byte("device-secret"), Info{Serial: "YK-0001"})

	r1, _ := d.ChallengeResponse(ctx, []byte("challenge-one"), true, time.Second)
	r2, _ := d.ChallengeResponse(ctx, []byte("challenge-two"), true, time.Second)
	if bytes.Equal(r1, r2) {
		t.Fatalf("expected distinct responses for distinct challenges")
	}
}

func TestHMACDriver_SetAbsent(t *testing.T) {
	ctx := context.Background()
	d := NewHMACDriver([]byte("device-secret"), Info{Serial: "YK-0001"})

	d.SetAbsent(true)
	if d.IsPresent(ctx) {
		t.Fatalf("expected driver to report absent after SetAbsent(true)")
	}
	if _, err := d.ChallengeResponse(ctx, []byte("c"), false, time.Second); !isKind(err, vaulterrors.KindTokenNotPresent) {
		t.Fatalf("expected KindTokenNotPresent when absent, got %v", err)
	}

	d.SetAbsent(false)
	if !d.IsPresent(ctx) {
		t.Fatalf("expected driver to report present after SetAbsent(false)")
	}
}

func isKind(err error, kind vaulterrors.Kind) bool {
	ce, ok := err.(*vaulterrors.CodedError)
	return ok && ce.Kind == kind
}
