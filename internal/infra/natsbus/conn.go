// Package natsbus connects the batch engine to NATS: audio goes to a JetStream
// object store and progress events are published on a subject.
package natsbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Config holds NATS connection settings.
type Config struct {
	URL             string `yaml:"url"              toml:"url"`
	Bucket          string `yaml:"bucket"           toml:"bucket"`
	Storage         string `yaml:"storage"          toml:"storage"` // file or memory
	ProgressSubject string `yaml:"progress_subject" toml:"progress_subject"`
}

// Connect dials NATS with reconnect settings suited to a long batch.
func Connect(cfg Config) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("voicebatch"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}

func storageType(s string) nats.StorageType {
	if s == "memory" {
		return nats.MemoryStorage
	}
	return nats.FileStorage
}
