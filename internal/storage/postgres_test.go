package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenPostgresStore_BadURL(t *testing.T) {
	s, err := OpenPostgresStore(context.Background(), "host=localhost port=notaport", DefaultPoolConfig())
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrPersistence)
}
