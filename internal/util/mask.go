// Package util junta helpers chicos sin dueño claro. Hoy: enmascarado de
// secretos para logs de arranque.
package util

import (
	"net/url"
	"strings"
)

// MaskSecret deja visibles los primeros 4 caracteres de un token y tapa el
// resto. Tokens cortos se tapan enteros.
func MaskSecret(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "…" + strings.Repeat("*", 4)
}

// MaskDSN tapa la password de un DSN estilo URL para poder loguearlo.
// Si el DSN no parsea se tapa entero antes que filtrar credenciales.
func MaskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		if err != nil {
			return "***"
		}
		return dsn
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
