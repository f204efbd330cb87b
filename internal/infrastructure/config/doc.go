// Package config handles loading and validating powersensor daemon configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with POWERSENSOR_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Sensitive values (MQTT password, InfluxDB token) should be supplied through
// the environment rather than the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Dispatcher.RemovalDelay())
package config
