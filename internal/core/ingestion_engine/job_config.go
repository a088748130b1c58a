package ingestion_engine

import "time"

// JobConfig tunes the ingestion job.
//
// QueueSize:      capacity of the in-memory queue Enqueue feeds (e.g., 64).
// ProcessTimeout: upper bound for one document's pipeline run by a worker.
// MaxErrorLen:    error messages persisted on a failed document are cut to this many runes.
type JobConfig struct {
	QueueSize      int
	ProcessTimeout time.Duration
	MaxErrorLen    int
}

func DefaultJobConfig() JobConfig {
	return JobConfig{
		QueueSize:      64,
		ProcessTimeout: 5 * time.Minute,
		MaxErrorLen:    500,
	}
}

func (c JobConfig) withDefaults() JobConfig {
	d := DefaultJobConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = d.ProcessTimeout
	}
	if c.MaxErrorLen <= 0 {
		c.MaxErrorLen = d.MaxErrorLen
	}
	return c
}
