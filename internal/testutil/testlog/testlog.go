package testlog

import (
	"testing"

	"github.com/danmuck/glowlink/internal/logging"
	"github.com/danmuck/glowlink/internal/logs"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	logs.Infof("test=%s", t.Name())
}
