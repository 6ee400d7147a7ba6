package config

import (
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/sheetpipe/pkg/errors"
)

// Load loads a configuration from a YAML file into config, substituting
// ${VAR_NAME} references with environment values first. Fields absent from
// the file keep their current values.
func Load(filePath string, config interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller
	if err != nil {
		return errors.IOError(err, filePath, "failed to read config file")
	}

	content := substituteEnvVars(string(data))

	dec := yaml.NewDecoder(strings.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && err != io.EOF {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML").WithDetail("path", filePath)
	}
	return nil
}

// LoadRunConfig reads a run configuration from filePath on top of the
// defaults and validates it.
func LoadRunConfig(filePath string) (*RunConfig, error) {
	cfg := NewRunConfig()
	if err := Load(filePath, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
