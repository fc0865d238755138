package observability

import (
	"github.com/danmuck/glowlink/internal/logs"
	"github.com/rs/zerolog"
)

// InitLogger returns the process logger tagged with the app and node name.
func InitLogger(app, node string) zerolog.Logger {
	return logs.Logger().With().Str("app", app).Str("node", node).Logger()
}
