// Package storage defines the persistence interfaces the auth service
// depends on. Implementations live in subpackages; sqlite is the default.
package storage
