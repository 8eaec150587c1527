// Package idgen generates the opaque identifiers attached to requests,
// responses, and audit records throughout the core.
package idgen

import "github.com/google/uuid"

// Generator produces opaque string ids.
type Generator interface {
	New() string
}

// UUID generates RFC 4122 v4 ids via google/uuid, matching the id scheme
// the gateway already uses for request correlation and audit logging.
type UUID struct{}

func (UUID) New() string { return uuid.NewString() }

// Static is a Generator for tests that always returns a fixed sequence,
// wrapping around when exhausted.
type Static struct {
	IDs []string
	i   int
}

func (s *Static) New() string {
	if len(s.IDs) == 0 {
		return ""
	}
	id := s.IDs[s.i%len(s.IDs)]
	s.i++
	return id
}
