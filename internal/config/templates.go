package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "meshbridge", "serve":
		return serveTemplate, nil
	case "channels":
		return channelsTemplate, nil
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

const serveTemplate = `id = "meshbridge"
addr = ":9300"
cors_origins = ["http://localhost:3000"]
token = ""
store_path = "meshbridge.db"
local_node = 0
hop_limit = 3

decrypt_enabled = true
decrypt_max_attempts = 10
channel_ttl = "60s"

send_interval = "30s"
retry_interval = "30s"
orphan_timeout = "5m"
sweep_interval = "60s"
channel_max_attempts = 1
direct_max_attempts = 3
`

const channelsTemplate = `[[channels]]
id = "primary"
name = "LongFast"
key = "AQ=="
enforce_name = true

[[channels]]
id = "ops"
name = "Ops"
key = "q83vEjRWeJCrze8SNFZ4kA=="
enforce_name = true
enabled = false
`
