package postgres

import (
	"testing"

	"logpipe/checkpoint"
)

func TestRegistry_RequiresDSN(t *testing.T) {
	if _, err := checkpoint.Open(checkpoint.Config{Kind: "postgres"}); err == nil {
		t.Fatal("postgres store without dsn must fail")
	}
}
