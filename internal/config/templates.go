package config

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Template renders a starter configuration: the defaults plus an example
// device and profile.
func Template() (string, error) {
	cfg := Default()
	cfg.Device = "/dev/ttyUSB0"
	cfg.Listen = ":9400"
	cfg.CorsOrigins = []string{"http://localhost:3000"}
	cfg.Profile = []ProfileConfig{
		{Type: "imu", Data: []any{"bmi088", 400}},
	}
	out, err := toml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("config template: %w", err)
	}
	return string(out), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
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
