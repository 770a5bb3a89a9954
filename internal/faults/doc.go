// Package faults concentra la clasificación de errores y el circuit breaker.
//
// Todo error que vuelve de la API remota o del almacenamiento local se
// normaliza a un ClassifiedError{Kind, Retryable, RetryAfter, MaxRetries}.
// No hay jerarquías: se hace switch sobre Kind.
//
// El circuit breaker es una máquina de 3 estados (closed → open → half_open)
// por tipo de operación, con el estado persistido en el CounterStore
// compartido para que varios workers vean los mismos contadores.
package faults
