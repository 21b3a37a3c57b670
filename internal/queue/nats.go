package queue

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamName is the JetStream stream that captures job subjects.
const StreamName = "WAMCP_JOBS"

type natsSubmitter struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
}

// ConnectNATS dials the server and opens a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url, nats.Name("wamcp-ingest"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

// NewNATSSubmitter publishes jobs to "<subject>.<job type>" on JetStream,
// creating the capturing stream when missing. The job ID is sent as the
// Nats-Msg-Id so the server drops re-submissions inside its duplicate window.
func NewNATSSubmitter(ctx context.Context, nc *nats.Conn, js jetstream.JetStream, subject string) (Submitter, error) {
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{subject + ".>"},
	}); err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", StreamName, err)
	}
	return &natsSubmitter{nc: nc, js: js, subject: subject}, nil
}

func (s *natsSubmitter) Submit(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if _, err := s.js.Publish(ctx, s.subject+"."+job.Type, data, jetstream.WithMsgID(job.ID)); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

func (s *natsSubmitter) Close() error {
	if s.nc != nil {
		return s.nc.Drain()
	}
	return nil
}

// NATSCooldown implements Cooldown on a JetStream key-value bucket whose TTL
// is the cooldown window. Create fails while the key is alive.
type NATSCooldown struct {
	kv jetstream.KeyValue
}

// NewNATSCooldown opens (or creates) the bucket.
func NewNATSCooldown(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (*NATSCooldown, error) {
	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket, TTL: ttl})
	if err != nil {
		return nil, fmt.Errorf("open kv bucket %s: %w", bucket, err)
	}
	return &NATSCooldown{kv: kv}, nil
}

// Acquire reports whether key was free and is now held for the window.
func (c *NATSCooldown) Acquire(ctx context.Context, key string) (bool, error) {
	// KV keys only allow [-/_=.a-zA-Z0-9]; group ids contain '@'.
	_, err := c.kv.Create(ctx, hex.EncodeToString([]byte(key)), []byte("1"))
	if errors.Is(err, jetstream.ErrKeyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cooldown %s: %w", key, err)
	}
	return true, nil
}
