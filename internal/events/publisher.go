// Package events announces scan activity on a RabbitMQ topic exchange.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresmejia3/facecensus/internal/types"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	RoutingObservation = "facecensus.observation"
	RoutingScanDone    = "facecensus.scan.completed"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// ObservationEvent is published for every admitted face.
type ObservationEvent struct {
	ScanID      string                `json:"scan_id"`
	Source      string                `json:"source"`
	Observation types.FaceObservation `json:"observation"`
}

// ScanEvent is published once the results of a scan are final.
type ScanEvent struct {
	ScanID       string `json:"scan_id"`
	Source       string `json:"source"`
	Observations int    `json:"observations"`
}

// Publisher sends scan events. It is both an observer of admissions and a
// recorder of the final result.
type Publisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	scanID   string
	source   string
}

// Dial connects, declares the topic exchange and opens a publishing channel.
func Dial(url, exchange, scanID, source string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, channel: ch, exchange: exchange, scanID: scanID, source: source}, nil
}

func (p *Publisher) publish(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx,
		p.exchange,
		key,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Headers:      amqp.Table{"x-scan-id": p.scanID},
		},
	)
}

func (p *Publisher) ObservationAdmitted(ctx context.Context, obs types.FaceObservation) error {
	return p.publish(ctx, RoutingObservation, ObservationEvent{ScanID: p.scanID, Source: p.source, Observation: obs})
}

func (p *Publisher) Name() string { return "amqp:" + p.exchange }

func (p *Publisher) Record(ctx context.Context, obs []types.FaceObservation) error {
	return p.publish(ctx, RoutingScanDone, ScanEvent{ScanID: p.scanID, Source: p.source, Observations: len(obs)})
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
