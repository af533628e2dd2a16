// Package store wires grant persistence: the core contract, its adapters, and
// the background expiration sweep.
package store

import (
	"context"
	"time"

	"github.com/dropDatabas3/grantd/internal/metrics"
	"github.com/dropDatabas3/grantd/internal/observability/logger"
	"github.com/dropDatabas3/grantd/internal/store/core"
)

// Sweeper borra periódicamente las entradas vencidas del GrantStore.
// Corre en su propio goroutine, totalmente desacoplado de los requests:
// el único writer que puede borrar filas no consumidas es este sweep, y solo
// cuando ya están vencidas.
type Sweeper struct {
	Store    core.GrantStore
	Interval time.Duration // default 1m
}

// Run ejecuta el loop hasta que el contexto se cancele.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce corre una pasada del sweep. Exportado para tests y para el host.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	log := logger.From(ctx).With(logger.Component("sweeper"))

	start := time.Now()
	n, err := s.Store.SweepExpired(ctx, start)
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warn("sweep failed", logger.Err(err))
		return
	}
	if n > 0 {
		metrics.SweepRemoved.Add(float64(n))
		log.Debug("sweep removed expired grants", logger.Count(n))
	}
}
