package health

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(0))
	assert.True(t, ProcessAlive(uint32(os.Getpid())))
	assert.True(t, ProcessAlive(uint32(os.Getppid())))
	assert.False(t, ProcessAlive(1<<30))
}
