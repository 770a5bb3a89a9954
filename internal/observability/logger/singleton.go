// Package logger envuelve zap con un singleton de proceso y helpers de
// contexto. Los componentes no construyen loggers propios: reciben uno por
// contexto o piden el global con L().
package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu       sync.Mutex
	instance *zap.Logger
)

// Init arma el logger global. La primera llamada gana; las siguientes son
// no-ops para que los tests puedan llamar Init sin pisarse.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if instance == nil {
		instance = build(cfg)
	}
}

// L retorna el logger global, inicializándolo en dev/info si hizo falta.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if instance == nil {
		instance = build(Config{})
	}
	return instance
}

// Named retorna el global con nombre de componente.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Sync flushea buffers pendientes; para el defer de main.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if instance == nil {
		return nil
	}
	return instance.Sync()
}
