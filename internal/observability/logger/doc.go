// Package logger provides a singleton Zap logger with context-based scoping.
//
// # Design Decisions
//
//   - Singleton: Una sola instancia global inicializada con Init().
//   - Context Scoping: Cada request puede llevar su propio logger "scoped" con
//     campos adicionales (client_id, subject, etc.) sin crear un nuevo core.
//   - Environments: "dev" usa consola con colores, "prod" usa JSON.
//   - Audit: las violaciones de seguridad (PKCE mismatch, doble consumo,
//     redirect_uri no registrado) se marcan con audit=true para poder
//     filtrarlas aunque el error OAuth2 devuelto sea un invalid_grant genérico.
//
// # Usage
//
// Inicialización (una vez en main.go):
//
//	logger.Init(logger.Config{
//	    Env:   os.Getenv("APP_ENV"),   // "dev" o "prod"
//	    Level: os.Getenv("LOG_LEVEL"), // "debug", "info", "warn", "error"
//	})
//	defer logger.L().Sync()
//
// En services (con contexto):
//
//	log := logger.From(ctx)
//	log.Info("code issued", logger.ClientID(clientID))
package logger
