package reporting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitWithoutDSNIsDisabled(t *testing.T) {
	assert.NoError(t, Init("", "test"))
	assert.NotPanics(t, func() { CapturePanic("boom", "test") })
}

func TestInitRejectsBadDSN(t *testing.T) {
	assert.Error(t, Init("not a dsn", "test"))
}
