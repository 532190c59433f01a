// Package testbed contains in-process redis stand-ins for tests:
// miniredis for regular commands, FakeServer for scripted replies,
// and FakeCluster for slot routing with MOVED and ASK redirections.
package testbed

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
)

// Miniredis starts miniredis server which is stopped on test cleanup.
// If password is not empty, AUTH is required.
func Miniredis(t testing.TB, password string) *miniredis.Miniredis {
	m := miniredis.RunT(t)
	if password != "" {
		m.RequireAuth(password)
	}
	return m
}
