package models

import "github.com/oklog/ulid/v2"

// NewID returns a new ULID string. Safe for concurrent use.
func NewID() string {
	return ulid.Make().String()
}
