package engine

import "github.com/google/uuid"

// TokenGenerator produces batch tokens. Every batch the engine runs is
// labelled with one token in logs, reports and live messages.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 tokens, so tokens in a log
// sort by batch start.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// sequence numbers batches from 1. It belongs to the goroutine that owns
// the engine state; Restore resumes it from a checkpoint.
type sequence int64

func (s *sequence) next() int64 {
	*s++
	return int64(*s)
}
