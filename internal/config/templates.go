package config

import (
	"fmt"
	"os"
)

// Template returns a commented starting config.
func Template() string {
	return template
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const template = `# host:port of the photo server; leave empty to discover over mDNS
server = ""
username = ""
password = ""

discovery_timeout = "5s"
request_timeout = "30s"
# wait after a failed background refresh
retry_interval = "2m"
poll_interval = "5s"

# requests per second to the server (0 = unlimited)
request_rate = 20.0
request_burst = 4
max_parallel_refresh = 2
thumbnail_cache_ttl = "10m"

admin_addr = "127.0.0.1:9870"
cors_origins = ["http://localhost:3000"]
`
