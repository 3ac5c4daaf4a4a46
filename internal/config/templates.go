package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "target":
		return targetTemplate, nil
	case "host":
		return hostTemplate, nil
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

const targetTemplate = `tx_bytes = 4096
rx_bytes = 256
metrics_addr = "127.0.0.1:9101"

[target]
version = 800
signal_size = 2
obj_ptr_size = 4
fun_ptr_size = 4
time_size = 4
frame_len = 256
max_string_len = 255
max_name_len = 64
dictionary_capacity = 512
memory_isolation = false

[link]
address = "127.0.0.1:6601"
byte_rate = 0
burst = 1024
poll_interval = "5ms"
write_timeout = "5s"

[filter]
global = ["ALL", "-TE"]
local = ["ALL"]

[app]
heartbeat = "1s"
memory_base = 0x20000000
memory_size = 4096

[[dictionary]]
kind = "object"
key = 0x20000000
name = "app_memory"

[[dictionary]]
kind = "user"
key = 100
name = "HEARTBEAT"
`

const hostTemplate = `[link]
address = "127.0.0.1:6601"
max_attempts = 0
`
