package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case MediumUDP:
		return udpTemplate, nil
	case MediumHub:
		return hubTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const udpTemplate = `name = "glow-desk"
address = "02:00:00:00:00:01"
heartbeat_interval = "2s"
peer_timeout = "10s"
max_peers = 32
queue_capacity = 64
loop_interval = "20ms"
attention_ticks = 50
echo_heartbeats = false
initial_mode = "Static Light"
log_level = "info"

[medium]
kind = "udp"
group = "239.0.71.71:4711"
interface = ""

[admin]
listen = "127.0.0.1:7070"
cors_origins = []
`

const hubTemplate = `name = "glow-sim"
address = "02:00:00:00:00:01"
heartbeat_interval = "500ms"
peer_timeout = "3s"
loop_interval = "20ms"
initial_mode = "Rainbow"

[medium]
kind = "hub"
loss = 0.1
simulated_peers = 3

[admin]
listen = "127.0.0.1:7070"
cors_origins = []
`
