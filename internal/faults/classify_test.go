package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
)

type fakeLimited struct{ in time.Duration }

func (f *fakeLimited) Error() string                   { return "budget exhausted" }
func (f *fakeLimited) RateLimitRetryIn() time.Duration { return f.in }

func TestClassify_Nil(t *testing.T) {
	if ce := Classify(nil, OpSync); ce != nil {
		t.Fatalf("nil error debería clasificar a nil, got %v", ce)
	}
}

func TestClassify_HTTPStatuses(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		kind      Kind
		retryable bool
		after     time.Duration
	}{
		{"429 con hint", &HTTPError{Status: 429, RetryAfter: 7 * time.Second}, KindRateLimit, true, 7 * time.Second},
		{"429 sin hint", &HTTPError{Status: 429}, KindRateLimit, true, 60 * time.Second},
		{"401", &HTTPError{Status: 401}, KindAuth, false, 0},
		{"403", &HTTPError{Status: 403}, KindAuth, false, 0},
		{"402 quota", &HTTPError{Status: 402}, KindQuota, false, 0},
		{"500", &HTTPError{Status: 500}, KindServer, true, 30 * time.Second},
		{"502", &HTTPError{Status: 502}, KindServer, true, 10 * time.Second},
		{"503", &HTTPError{Status: 503}, KindServer, true, 60 * time.Second},
		{"504", &HTTPError{Status: 504}, KindServer, true, 45 * time.Second},
		{"400 validation", &HTTPError{Status: 400}, KindValidation, false, 0},
		{"422 validation", &HTTPError{Status: 422}, KindValidation, false, 0},
		{"418 generic", &HTTPError{Status: 418}, KindGeneric, false, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ce := Classify(tc.err, OpSync)
			if ce.Kind != tc.kind {
				t.Fatalf("kind=%s, want %s", ce.Kind, tc.kind)
			}
			if ce.Retryable != tc.retryable {
				t.Fatalf("retryable=%t, want %t", ce.Retryable, tc.retryable)
			}
			if tc.after > 0 && ce.RetryAfter != tc.after {
				t.Fatalf("retry after=%s, want %s", ce.RetryAfter, tc.after)
			}
			if ce.Op != OpSync {
				t.Fatalf("op=%q", ce.Op)
			}
		})
	}
}

func TestClassify_ValidationSentinels(t *testing.T) {
	for _, err := range []error{
		repository.ErrInvalidInput,
		fmt.Errorf("wrap: %w", repository.ErrUnknownEntityType),
	} {
		ce := Classify(err, OpWebhook)
		if ce.Kind != KindValidation || ce.Retryable {
			t.Fatalf("%v: kind=%s retryable=%t", err, ce.Kind, ce.Retryable)
		}
	}
}

func TestClassify_MemoryPressure(t *testing.T) {
	ce := Classify(fmt.Errorf("%w: 96.2%% used", ErrMemoryPressure), OpSync)
	if ce.Kind != KindMemory || !ce.Retryable || ce.RetryAfter != 5*time.Second {
		t.Fatalf("got %+v", ce)
	}
}

func TestClassify_LimiterHint(t *testing.T) {
	ce := Classify(&fakeLimited{in: 90 * time.Second}, OpSync)
	if ce.Kind != KindRateLimit || !ce.Retryable || ce.RetryAfter != 90*time.Second {
		t.Fatalf("got %+v", ce)
	}
}

func TestClassify_CircuitOpen(t *testing.T) {
	ce := Classify(&CircuitOpenError{Op: OpSync, RetryIn: time.Minute}, OpSync)
	if ce.Kind != KindServer || ce.Retryable {
		t.Fatalf("circuit open no debe reintentarse inline: %+v", ce)
	}
	if ce.RetryAfter != time.Minute {
		t.Fatalf("retry after=%s", ce.RetryAfter)
	}
}

func TestClassify_NetErrors(t *testing.T) {
	dns := &net.DNSError{Err: "no such host", Name: "api.crm.example.com"}
	ce := Classify(dns, OpSync)
	if ce.Kind != KindConnection || ce.RetryAfter != 60*time.Second {
		t.Fatalf("dns: %+v", ce)
	}

	timeout := &net.OpError{Op: "dial", Err: &timeoutErr{}}
	ce = Classify(timeout, OpSync)
	if ce.Kind != KindConnection || ce.RetryAfter != 15*time.Second {
		t.Fatalf("timeout: %+v", ce)
	}

	tls := errors.New("tls: handshake failure")
	ce = Classify(tls, OpSync)
	if ce.Kind != KindConnection || ce.RetryAfter != 45*time.Second {
		t.Fatalf("tls: %+v", ce)
	}

	refused := errors.New("dial tcp 10.0.0.1:443: connection refused")
	ce = Classify(refused, OpSync)
	if ce.Kind != KindConnection || ce.RetryAfter != 30*time.Second {
		t.Fatalf("refused: %+v", ce)
	}
}

func TestClassify_ContextCanceled(t *testing.T) {
	ce := Classify(context.Canceled, OpSync)
	if ce.Retryable {
		t.Fatal("cancelación del caller no se reintenta")
	}
}

func TestClassify_UnknownIsConservative(t *testing.T) {
	ce := Classify(errors.New("algo raro"), OpSync)
	if ce.Kind != KindGeneric || ce.Retryable {
		t.Fatalf("got %+v", ce)
	}
}

func TestClassify_AlreadyClassifiedKeepsKind(t *testing.T) {
	orig := &ClassifiedError{Kind: KindQuota, Op: ""}
	ce := Classify(fmt.Errorf("wrap: %w", orig), OpPush)
	if ce.Kind != KindQuota || ce.Op != OpPush {
		t.Fatalf("got %+v", ce)
	}
}

func TestOperatorAction(t *testing.T) {
	if !(&ClassifiedError{Kind: KindAuth}).OperatorAction() {
		t.Fatal("auth requiere operador")
	}
	if !(&ClassifiedError{Kind: KindQuota}).OperatorAction() {
		t.Fatal("quota requiere operador")
	}
	if (&ClassifiedError{Kind: KindServer}).OperatorAction() {
		t.Fatal("server error no requiere operador")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
