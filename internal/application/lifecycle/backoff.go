package lifecycle

import (
	"context"
	"math/rand"
	"time"
)

// Policy reúne los parámetros operativos del motor. Los valores por defecto
// salen de la configuración (DTE_RETRY_* en pkg/config).
type Policy struct {
	RetryAttempts int           // intentos máximos ante errores transitorios
	RetryBase     time.Duration // base del backoff exponencial
	RetryCap      time.Duration // techo del backoff

	// SynchronousDispatch ejecuta el pipeline de emisión en la goroutine del
	// caller en lugar de en segundo plano. Solo para tests.
	SynchronousDispatch bool
}

// DefaultPolicy son los valores operativos de fábrica.
func DefaultPolicy() Policy {
	return Policy{
		RetryAttempts: 5,
		RetryBase:     2 * time.Second,
		RetryCap:      60 * time.Second,
	}
}

// delay calcula la espera antes del reintento attempt (1-indexado):
// base·2^(attempt−1) acotado por el techo, con jitter para desincronizar
// dispositivos que fallan a la vez.
func (e *Engine) delay(attempt int) time.Duration {
	d := e.policy.RetryBase
	for i := 1; i < attempt && d < e.policy.RetryCap; i++ {
		d *= 2
	}
	if d > e.policy.RetryCap {
		d = e.policy.RetryCap
	}
	return e.jitter(d)
}

// randomJitter devuelve un valor uniforme en [d/2, d].
func randomJitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// sleepCtx espera d o hasta que el contexto se cancele.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
