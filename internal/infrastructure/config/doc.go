// Package config handles loading and validating Arvis Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with ARVIS_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, debug JWT secret)
//     should be set via environment variables
//   - An empty api.jwt_secret leaves the debug channel unauthenticated,
//     which is only acceptable when it listens on loopback
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Room.Name, cfg.Router.SleepDwell)
package config
