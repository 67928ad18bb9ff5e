// Package config provides configuration parsing for engine bridge
// deployments.
//
// The configuration is stored in enginebridge.json (or enginebridge.yaml)
// next to the binary or in the directory passed with --config. This
// package handles loading, saving, validating, and converting it into the
// runtime Config structs of the packages it configures.
//
// # Configuration File Structure
//
//	{
//	  "controller": {
//	    "engineType": "unreal",
//	    "queueCapacity": 100
//	  },
//	  "batch": {
//	    "flushInterval": "16ms",
//	    "maxBatchSize": 50
//	  },
//	  "throttle": {
//	    "rates": [
//	      {"target": "Player", "method": "Move", "rateHz": 30, "strategy": "keepLatest"}
//	    ]
//	  },
//	  "retry": {
//	    "create": {"baseDelay": "50ms", "maxAttempts": 10}
//	  },
//	  "server": {
//	    "address": ":8765",
//	    "targets": ["Echo"]
//	  },
//	  "store": {
//	    "type": "disk",
//	    "dir": "transfers"
//	  },
//	  "metrics": {
//	    "enabled": true
//	  }
//	}
//
// Durations are strings accepted by time.ParseDuration. Unset fields keep
// the owning package's defaults.
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctrl := engine.New(ch, cfg.Engine())
package config
