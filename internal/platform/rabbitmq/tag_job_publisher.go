package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// TagJob asks the tagging worker to (re)compute the key phrases of a note.
type TagJob struct {
	NoteID uint `json:"note_id"`
}

type TagJobPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewTagJobPublisher(conn *amqp.Connection, queueName string) *TagJobPublisher {
	return &TagJobPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *TagJobPublisher) PublishTagJob(ctx context.Context, noteID uint) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := DeclareQueue(ch, p.queueName); err != nil {
		return err
	}

	payload, err := json.Marshal(TagJob{NoteID: noteID})
	if err != nil {
		return fmt.Errorf("marshal tag job failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish tag job failed: %w", err)
	}
	return nil
}

// DeclareQueue declares the durable queue shared by publisher and worker.
func DeclareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s failed: %w", name, err)
	}
	return nil
}
