package config

// Application constants
const (
	// Application Info
	AppName    = "devserver"
	AppVersion = "0.1.0"

	// Environment variable prefix, e.g. DEVSERVER_SERVER_PORT
	EnvPrefix = "DEVSERVER"

	// Server defaults
	DefaultPort        = 8080
	DefaultDistPath    = "dist"
	DefaultMetricsPath = "/__devserver/metrics"

	// Live-update socket
	DefaultClientPath = "/devserver-hmr"

	// Paths containing this marker carry hot-update chunks
	HotUpdateMarker = "hot-update"

	// Default document served by the fallbacks
	IndexDocument = "index.html"
)

// ConfigFileLocations lists where Load looks for a config file when no path is given
var ConfigFileLocations = []string{
	"devserver.yaml",
	"devserver.yml",
	"configs/devserver.yaml",
}
