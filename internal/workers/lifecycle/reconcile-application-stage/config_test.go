package reconcileapplicationstage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"loan-lifecycle/internal/common/config"
)

func TestConfigFrom(t *testing.T) {
	assert.Equal(t, 5*time.Second, ConfigFrom(config.WorkerConfig{}).Timeout)
	assert.Equal(t, 2500*time.Millisecond, ConfigFrom(config.WorkerConfig{Timeout: 2500}).Timeout)
}
