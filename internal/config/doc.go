// Package config loads the service configuration.
//
// Values are layered: defaults, then liveview.yaml, then environment
// variables, then command-line flags (applied by the caller).
//
// # Configuration File Structure
//
//	port: 8000
//	log:
//	  level: debug
//	  format: json
//	server:
//	  allowedOrigins: ["https://app.example.com"]
//	  heartbeatTimeout: 30s
//	session:
//	  gracePeriod: 5m
//	backend:
//	  type: redis
//	  redis:
//	    url: redis://localhost:6379/0
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.ApplyEnv(os.LookupEnv)
package config
