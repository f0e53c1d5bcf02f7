package rabbitmq

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"docchat/internal/model"
)

func sampleJob() model.IngestJob {
	return model.IngestJob{
		DocumentID:   uuid.New(),
		Filename:     "report.pdf",
		DeclaredType: "application/pdf",
		Content:      []byte("%PDF-1.4 body"),
	}
}

func TestIngestPublishing(t *testing.T) {
	job := sampleJob()

	msg, err := ingestPublishing(job)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if msg.ContentType != "application/json" {
		t.Errorf("unexpected content type %q", msg.ContentType)
	}
	if msg.DeliveryMode != amqp.Persistent {
		t.Errorf("ingest jobs must survive a broker restart, delivery mode %d", msg.DeliveryMode)
	}
	if msg.MessageId != job.DocumentID.String() {
		t.Errorf("message id should be the document id, got %q", msg.MessageId)
	}

	var decoded model.IngestJob
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.DocumentID != job.DocumentID || decoded.Filename != job.Filename ||
		decoded.DeclaredType != job.DeclaredType || !bytes.Equal(decoded.Content, job.Content) {
		t.Errorf("body does not carry the job: %+v", decoded)
	}
}

func TestNew_EmptyURLDisablesQueue(t *testing.T) {
	conn, err := New(context.Background(), "", "ingest")
	if err != nil || conn != nil {
		t.Errorf("expected nil, nil, got %v, %v", conn, err)
	}
}

// Runs against a real broker when RABBITMQ_URL is set.
func TestJobPublisher_PublishIngest(t *testing.T) {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		t.Skip("RABBITMQ_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queue := "docchat.test." + uuid.NewString()
	conn, err := New(ctx, url, queue)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	defer func() {
		_, _ = ch.QueueDelete(queue, false, false, false)
		_ = ch.Close()
	}()

	job := sampleJob()
	if err := NewJobPublisher(conn, queue).PublishIngest(ctx, job); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var (
		d  amqp.Delivery
		ok bool
	)
	for deadline := time.Now().Add(5 * time.Second); time.Now().Before(deadline); time.Sleep(50 * time.Millisecond) {
		if d, ok, err = ch.Get(queue, true); err != nil {
			t.Fatalf("get: %v", err)
		}
		if ok {
			break
		}
	}
	if !ok {
		t.Fatal("published job never reached the queue")
	}
	if d.MessageId != job.DocumentID.String() {
		t.Errorf("unexpected message id %q", d.MessageId)
	}
}
