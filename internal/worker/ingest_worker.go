package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"docchat/internal/app"
	"docchat/internal/logger"
	"docchat/internal/model"
)

type Ingester interface {
	Ingest(ctx context.Context, in app.IngestInput) (*model.Document, error)
}

// IngestWorker consumes upload jobs published by the API and runs them
// through the same ingestion path as synchronous uploads.
type IngestWorker struct {
	conn      *amqp.Connection
	ingester  Ingester
	queueName string
	log       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, ingester Ingester, queueName string, log *slog.Logger) *IngestWorker {
	return &IngestWorker{
		conn:      conn,
		ingester:  ingester,
		queueName: queueName,
		log:       logger.OrDefault(log),
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
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

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	// One unacknowledged job at a time.
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
				w.handle(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *IngestWorker) handle(ctx context.Context, d amqp.Delivery) {
	if err := w.process(ctx, d.Body); err != nil {
		w.log.Error("ingest job failed", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// process decodes and ingests one job. Failed jobs are dropped, not requeued.
func (w *IngestWorker) process(ctx context.Context, body []byte) error {
	var job model.IngestJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("decode ingest job failed: %w", err)
	}
	if len(job.Content) == 0 {
		return errors.New("ingest job has no content")
	}

	doc, err := w.ingester.Ingest(ctx, app.IngestInput{
		DocumentID:   job.DocumentID,
		Filename:     job.Filename,
		DeclaredType: job.DeclaredType,
		Content:      job.Content,
	})
	if err != nil {
		return err
	}
	w.log.Info("ingest job done", "document_id", doc.ID.String())
	return nil
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
