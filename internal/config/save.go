package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/devpoll/devpoll/internal/errors"
)

// Save writes cfg as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig, "Can't create "+dir, "")
		}
	}
	// Credentials may hold passwords.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Can't write "+path, "Check file permissions")
	}
	return nil
}

// Marshal renders cfg as YAML. Durations come out as "5s" strings.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig, "Can't encode config", "")
	}
	return data, nil
}

// Schema returns the JSON Schema of the config file.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{
		FieldNameTag:               "yaml",
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: true,
	}
	s := r.Reflect(&Config{})
	s.Title = "devpoll configuration"
	return json.MarshalIndent(s, "", "  ")
}
