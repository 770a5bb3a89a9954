package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
)

// Kind es la variante de un error clasificado.
type Kind string

const (
	KindRateLimit  Kind = "rate_limit"
	KindAuth       Kind = "auth"
	KindQuota      Kind = "quota"
	KindServer     Kind = "server_error"
	KindConnection Kind = "connection"
	KindMemory     Kind = "memory"
	KindValidation Kind = "validation"
	KindGeneric    Kind = "generic"
)

// Tipos de operación que trackea el circuit breaker.
const (
	OpSync    = "sync"
	OpPush    = "push"
	OpWebhook = "webhook"
)

// ClassifiedError es la variante etiquetada que reemplaza el dispatch por
// jerarquía de excepciones: kind + política de retry, nada más.
type ClassifiedError struct {
	Kind       Kind
	Retryable  bool
	RetryAfter time.Duration // hint del proveedor; 0 = usar backoff por kind
	MaxRetries int
	Op         string // tipo de operación en curso (sync, push, webhook)
	Err        error  // causa envuelta
}

func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// OperatorAction indica si el error necesita intervención humana
// (credenciales, límites de plan). Nunca se reintenta automáticamente.
func (e *ClassifiedError) OperatorAction() bool {
	return e.Kind == KindAuth || e.Kind == KindQuota
}

// HTTPError representa una respuesta HTTP no exitosa del proveedor remoto.
// La construye el cliente CRM; acá solo se clasifica.
type HTTPError struct {
	Status     int
	RetryAfter time.Duration // parseado de Retry-After si vino
	Msg        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("remote api: status %d: %s", e.Status, e.Msg)
}

// ErrMemoryPressure lo emite el sync loop cuando el MemoryGovernor reporta
// uso crítico. Se clasifica como KindMemory.
var ErrMemoryPressure = errors.New("memory pressure critical")

// Delays base por kind (política por defecto).
const (
	delayRateLimit   = 60 * time.Second
	delayServer      = 30 * time.Second
	delayServer502   = 10 * time.Second
	delayServer503   = 60 * time.Second
	delayServer504   = 45 * time.Second
	delayConnDNS     = 60 * time.Second
	delayConnTLS     = 45 * time.Second
	delayConnOther   = 30 * time.Second
	delayConnTimeout = 15 * time.Second
	delayMemory      = 5 * time.Second
)

const (
	defaultMaxRetries  = 3
	operatorMaxRetries = 1
)

// Classify normaliza cualquier error a un ClassifiedError para la operación
// dada. Es una función pura: no toca contadores ni estado.
func Classify(err error, op string) *ClassifiedError {
	if err == nil {
		return nil
	}

	// Ya clasificado: solo asegurar el op.
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		if ce.Op == "" {
			ce.Op = op
		}
		return ce
	}

	if errors.Is(err, ErrMemoryPressure) {
		return &ClassifiedError{Kind: KindMemory, Retryable: true, RetryAfter: delayMemory, MaxRetries: defaultMaxRetries, Op: op, Err: err}
	}

	if repository.IsInvalidInput(err) || errors.Is(err, repository.ErrUnknownEntityType) {
		return &ClassifiedError{Kind: KindValidation, Retryable: false, MaxRetries: operatorMaxRetries, Op: op, Err: err}
	}

	// Cancelación explícita del caller: no reintentar.
	if errors.Is(err, context.Canceled) {
		return &ClassifiedError{Kind: KindGeneric, Retryable: false, MaxRetries: operatorMaxRetries, Op: op, Err: err}
	}

	// Señal del limiter propio (presupuesto agotado). Interface assertion
	// para no importar internal/rate desde acá.
	var rl interface{ RateLimitRetryIn() time.Duration }
	if errors.As(err, &rl) {
		return &ClassifiedError{Kind: KindRateLimit, Retryable: true, RetryAfter: rl.RateLimitRetryIn(), MaxRetries: defaultMaxRetries, Op: op, Err: err}
	}

	// Circuito abierto: no es retryable acá; el scheduler decide cuándo
	// volver a intentar según RetryIn.
	var coe *CircuitOpenError
	if errors.As(err, &coe) {
		return &ClassifiedError{Kind: KindServer, Retryable: false, RetryAfter: coe.RetryIn, MaxRetries: operatorMaxRetries, Op: op, Err: err}
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return classifyHTTP(httpErr, op)
	}

	if k, delay, ok := classifyNet(err); ok {
		return &ClassifiedError{Kind: k, Retryable: true, RetryAfter: delay, MaxRetries: defaultMaxRetries, Op: op, Err: err}
	}

	// Default conservador: no reintentar lo que no se entiende.
	return &ClassifiedError{Kind: KindGeneric, Retryable: false, MaxRetries: operatorMaxRetries, Op: op, Err: err}
}

func classifyHTTP(e *HTTPError, op string) *ClassifiedError {
	switch {
	case e.Status == 429:
		after := e.RetryAfter
		if after <= 0 {
			after = delayRateLimit
		}
		return &ClassifiedError{Kind: KindRateLimit, Retryable: true, RetryAfter: after, MaxRetries: defaultMaxRetries, Op: op, Err: e}
	case e.Status == 401 || e.Status == 403:
		return &ClassifiedError{Kind: KindAuth, Retryable: false, MaxRetries: operatorMaxRetries, Op: op, Err: e}
	case e.Status == 402:
		return &ClassifiedError{Kind: KindQuota, Retryable: false, MaxRetries: operatorMaxRetries, Op: op, Err: e}
	case e.Status >= 500:
		delay := delayServer
		switch e.Status {
		case 502:
			delay = delayServer502
		case 503:
			delay = delayServer503
		case 504:
			delay = delayServer504
		}
		if e.RetryAfter > 0 {
			delay = e.RetryAfter
		}
		return &ClassifiedError{Kind: KindServer, Retryable: true, RetryAfter: delay, MaxRetries: defaultMaxRetries, Op: op, Err: e}
	case e.Status == 400 || e.Status == 422:
		return &ClassifiedError{Kind: KindValidation, Retryable: false, MaxRetries: operatorMaxRetries, Op: op, Err: e}
	default:
		return &ClassifiedError{Kind: KindGeneric, Retryable: false, MaxRetries: operatorMaxRetries, Op: op, Err: e}
	}
}

// classifyNet detecta errores de capa de red y su delay por subtipo.
func classifyNet(err error) (Kind, time.Duration, bool) {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnection, delayConnDNS, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindConnection, delayConnTimeout, true
		}
		return KindConnection, delayConnOther, true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindConnection, delayConnTimeout, true
	}

	// TLS no expone un tipo raíz estable; heurística por mensaje.
	msg := err.Error()
	if strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:") {
		return KindConnection, delayConnTLS, true
	}
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") {
		return KindConnection, delayConnOther, true
	}

	return KindGeneric, 0, false
}
