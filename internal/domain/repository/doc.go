// Package repository define los contratos de dominio del sync.
//
// Acá viven las interfaces de los colaboradores externos (API remota del CRM,
// almacenamiento local, counter store compartido) y los tipos que cruzan
// capas. Las implementaciones concretas viven en internal/crm, internal/store
// e internal/cache.
//
// Convenciones:
//   - Context siempre es el primer parámetro
//   - Errores de dominio están en errors.go
//   - Los tipos son independientes del driver de almacenamiento
package repository
