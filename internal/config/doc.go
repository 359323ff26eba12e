// Package config manages engine settings stored at ~/.mcpx/config.yaml.
// Values are read through viper with an MCPX_ environment override, and
// every knob has a working default so the engine runs with no config file
// at all.
package config
