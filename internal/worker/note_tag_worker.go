package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/piyushsharma8821/scribbly-ai/internal/model"
	"github.com/piyushsharma8821/scribbly-ai/internal/platform/rabbitmq"
)

var errMalformedJob = errors.New("malformed tag job")

type NoteTagStore interface {
	GetByID(ctx context.Context, id uint) (*model.Note, error)
	UpdateTags(ctx context.Context, id uint, tags []string) error
}

type Tagger interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

// NoteTagWorker consumes tag jobs and stores the extracted key phrases on the note.
type NoteTagWorker struct {
	conn       *amqp.Connection
	notes      NoteTagStore
	tagger     Tagger
	queueName  string
	jobTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewNoteTagWorker(conn *amqp.Connection, notes NoteTagStore, tagger Tagger, queueName string, jobTimeout time.Duration) *NoteTagWorker {
	if jobTimeout <= 0 {
		jobTimeout = time.Minute
	}
	return &NoteTagWorker{
		conn:       conn,
		notes:      notes,
		tagger:     tagger,
		queueName:  queueName,
		jobTimeout: jobTimeout,
	}
}

func (w *NoteTagWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.deliver(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *NoteTagWorker) deliver(ctx context.Context, d amqp.Delivery) {
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	if err := w.Handle(jobCtx, d.Body); err != nil {
		log.Printf("worker tag note failed: %v", err)
		// Retry once on transient failures; malformed jobs are dropped.
		requeue := !errors.Is(err, errMalformedJob) && !d.Redelivered
		_ = d.Nack(false, requeue)
		return
	}
	_ = d.Ack(false)
}

// Handle processes one job body. A job for a deleted note is a no-op.
func (w *NoteTagWorker) Handle(ctx context.Context, body []byte) error {
	var job rabbitmq.TagJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("%w: %v", errMalformedJob, err)
	}
	if job.NoteID == 0 {
		return fmt.Errorf("%w: missing note id", errMalformedJob)
	}

	note, err := w.notes.GetByID(ctx, job.NoteID)
	if err != nil {
		return fmt.Errorf("load note %d failed: %w", job.NoteID, err)
	}
	if note == nil {
		return nil
	}

	tags, err := w.tagger.Extract(ctx, note.Title+"\n"+note.Content)
	if err != nil {
		return fmt.Errorf("extract tags for note %d failed: %w", job.NoteID, err)
	}
	if err := w.notes.UpdateTags(ctx, job.NoteID, tags); err != nil {
		return fmt.Errorf("store tags for note %d failed: %w", job.NoteID, err)
	}
	return nil
}

func (w *NoteTagWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
