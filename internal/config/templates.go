package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders the default config for kind as commented TOML.
func Template(kind string) (string, error) {
	var v any
	switch normalizeKind(kind) {
	case KindRelay:
		v = DefaultRelayFile()
	case KindClient:
		v = DefaultClientFile()
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	out, err := toml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("config: render %s template: %w", kind, err)
	}
	return string(out), nil
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
