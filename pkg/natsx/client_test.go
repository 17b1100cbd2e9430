package natsx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectInvalidURL(t *testing.T) {
	nc, err := Connect("invalid://not-a-nats-server", "")
	assert.Error(t, err)
	assert.Nil(t, nc)
}
