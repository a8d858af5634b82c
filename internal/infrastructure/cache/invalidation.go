// Package cache propaga invalidaciones del caché de certificados entre instancias
// mediante Redis Pub/Sub.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/emisor-dte/internal/application/signing"
	"github.com/jhoicas/emisor-dte/pkg/config"
	"github.com/jhoicas/emisor-dte/pkg/logger"
)

// DefaultChannel canal de invalidación de certificados.
const DefaultChannel = "dte:credentials:invalidate"

// message lo que viaja por el canal.
type message struct {
	TenantID string `json:"tenant_id"`
	Origin   string `json:"origin"`
	At       int64  `json:"at"`
}

// CredentialBus publica y recibe invalidaciones. Los mensajes publicados por la propia
// instancia se ignoran al recibirlos: el caché local ya se invalidó al rotar.
type CredentialBus struct {
	client     *redis.Client
	ownsClient bool
	channel    string
	origin     string
	log        *logger.Logger

	mu      sync.Mutex
	running bool
}

var _ signing.InvalidationBus = (*CredentialBus)(nil)

// NewCredentialBus se conecta a Redis y verifica la conexión.
func NewCredentialBus(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*CredentialBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: conectar a Redis: %w", err)
	}
	b := NewCredentialBusWithClient(client, cfg.Channel, log)
	b.ownsClient = true
	return b, nil
}

// NewCredentialBusWithClient usa un cliente existente; el llamador conserva su propiedad.
func NewCredentialBusWithClient(client *redis.Client, channel string, log *logger.Logger) *CredentialBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CredentialBus{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		log:     log.Module("cache"),
	}
}

// Publish avisa a las demás instancias que el certificado del tenant cambió.
func (b *CredentialBus) Publish(ctx context.Context, tenantID string) error {
	data, err := json.Marshal(message{TenantID: tenantID, Origin: b.origin, At: time.Now().UnixNano()})
	if err != nil {
		return fmt.Errorf("cache: serializar mensaje: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("cache: publicar invalidación: %w", err)
	}
	b.log.Debug().Str("tenant_id", tenantID).Str("channel", b.channel).Msg("invalidación publicada")
	return nil
}

// Subscribe escucha el canal y llama a invalidate por cada tenant recibido de otra instancia.
// Bloquea hasta que ctx se cancela o el canal se cierra.
func (b *CredentialBus) Subscribe(ctx context.Context, invalidate func(tenantID string)) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.New("cache: suscripción ya activa")
	}
	b.running = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("cache: suscribir a %s: %w", b.channel, err)
	}
	b.log.Info().Str("channel", b.channel).Msg("suscrito a invalidaciones de certificados")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				b.log.Warn().Msg("canal de invalidación cerrado")
				return nil
			}
			b.handle(msg.Payload, invalidate)
		}
	}
}

func (b *CredentialBus) handle(payload string, invalidate func(string)) {
	var m message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		b.log.Error().Err(err).Str("payload", payload).Msg("mensaje de invalidación ilegible")
		return
	}
	if m.Origin == b.origin || m.TenantID == "" {
		return
	}
	invalidate(m.TenantID)
	b.log.Info().Str("tenant_id", m.TenantID).Msg("certificado invalidado por otra instancia")
}

// Close cierra el cliente si fue creado por el bus.
func (b *CredentialBus) Close() error {
	if b.ownsClient {
		return b.client.Close()
	}
	return nil
}
