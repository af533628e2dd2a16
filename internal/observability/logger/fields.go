package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - NEGOCIO
// =================================================================================

// ClientID crea un campo para el ID del cliente OAuth.
func ClientID(v string) zap.Field {
	return zap.String("client_id", v)
}

// Subject crea un campo para el subject (usuario) autenticado.
func Subject(v string) zap.Field {
	return zap.String("sub", v)
}

// GrantType crea un campo para el grant_type de la petición.
func GrantType(v string) zap.Field {
	return zap.String("grant_type", v)
}

// Scope crea un campo para el scope solicitado/concedido.
func Scope(v string) zap.Field {
	return zap.String("scope", v)
}

// SessionID crea un campo para el ID de sesión correlacionada.
func SessionID(v string) zap.Field {
	return zap.String("sid", v)
}

// ErrorCode crea un campo para el código de error OAuth2 devuelto.
func ErrorCode(v string) zap.Field {
	return zap.String("error_code", v)
}

// Audit marca el evento como relevante para auditoría de seguridad.
// Se usa en violaciones (PKCE mismatch, doble consumo, redirect inválido)
// cuya respuesta wire es indistinguible de un error ordinario.
func Audit() zap.Field {
	return zap.Bool("audit", true)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Layer crea un campo para la capa (host, engine, store).
func Layer(v string) zap.Field {
	return zap.String("layer", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Duration crea un campo para una duración.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - DATOS
// =================================================================================

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// Key crea un campo genérico para una clave (siempre hasheada, nunca el secreto).
func Key(v string) zap.Field {
	return zap.String("key", v)
}

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}

// Strings crea un campo para un slice de strings (ej: scopes).
func Strings(key string, v []string) zap.Field {
	return zap.Strings(key, v)
}
