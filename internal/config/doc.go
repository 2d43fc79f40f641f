// Package config provides configuration management for the dev server.
// It loads configuration from defaults, an optional YAML file and the
// environment, and validates the result before the server starts.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. Configuration file (devserver.yaml)
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern DEVSERVER_* for namespacing:
//
//	DEVSERVER_SERVER_PORT=3000
//	DEVSERVER_DEV_COMPRESS=true
//	DEVSERVER_DEV_HEADERS=X-Test:1,X-Env:dev
//	DEVSERVER_DEV_HISTORY_API_FALLBACK=true
//	DEVSERVER_DEV_PROXY='{"/api":"http://localhost:3001"}'
//	DEVSERVER_OUTPUT_DIST_PATH=build
//
// # Dev Options
//
// The dev section mirrors the pipeline options:
//
//	dev:
//	  compress: true
//	  headers:
//	    X-Test: "1"
//	  proxy:
//	    /api: http://localhost:3001
//	  public_dir: public
//	  html_fallback: index
//	  history_api_fallback:
//	    index: /app.html
//	    rewrites:
//	      - from: ^/admin
//	        to: /admin.html
//
// proxy also accepts a list of rules with a context list each, and
// history_api_fallback accepts a plain bool.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
package config
