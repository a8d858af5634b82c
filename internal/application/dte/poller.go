package dte

import (
	"context"
	"time"

	"github.com/jhoicas/emisor-dte/pkg/logger"
)

// Poller consulta periódicamente los documentos SUBMITTED hasta su veredicto.
type Poller struct {
	manager   *Manager
	interval  time.Duration
	batchSize int
	log       *logger.Logger
}

// NewPoller construye el poller. interval <= 0 lo deja inactivo.
func NewPoller(manager *Manager, interval time.Duration, batchSize int, log *logger.Logger) *Poller {
	if batchSize <= 0 {
		batchSize = 50
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Poller{manager: manager, interval: interval, batchSize: batchSize, log: log.Module("poller")}
}

// Run bloquea hasta que ctx se cancele.
func (p *Poller) Run(ctx context.Context) {
	if p.interval <= 0 {
		p.log.Info().Msg("poller deshabilitado")
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.log.Info().Dur("interval", p.interval).Int("batch_size", p.batchSize).Msg("poller iniciado")
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("poller detenido")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	n, err := p.manager.PollPending(ctx, p.batchSize)
	if err != nil {
		p.log.Warn().Err(err).Msg("ronda de consultas interrumpida")
		return
	}
	if n > 0 {
		p.log.Info().Int("resolved", n).Msg("documentos con veredicto")
	}
}
