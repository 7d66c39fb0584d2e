package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/clinicdesk/scheduling-engine/internal/scheduling"
)

const (
	// DisplacementExchange is where the notification collaborator listens.
	DisplacementExchange = "scheduling.displacements"
	routingKey           = "appointment.displaced"
)

// Publisher sends displacement events to RabbitMQ.
type Publisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(DisplacementExchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &Publisher{conn: conn, ch: ch}, nil
}

type displacementMessage struct {
	EventID       string    `json:"event_id"`
	AppointmentID string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	DoctorID      string    `json:"doctor_id"`
	SlotStart     time.Time `json:"slot_start"`
}

func (p *Publisher) Publish(ctx context.Context, ev scheduling.DisplacementEvent) error {
	body, err := json.Marshal(displacementMessage{
		EventID:       ev.ID.String(),
		AppointmentID: ev.AppointmentID.String(),
		PatientID:     ev.PatientID.String(),
		DoctorID:      ev.DoctorID.String(),
		SlotStart:     ev.SlotStart,
	})
	if err != nil {
		return fmt.Errorf("marshal displacement: %w", err)
	}

	err = p.ch.PublishWithContext(ctx, DisplacementExchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID.String(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish displacement: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if err := p.ch.Close(); err != nil {
		_ = p.conn.Close()
		return err
	}
	return p.conn.Close()
}
