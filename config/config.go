// Package config defines the engine configuration document and its loader.
//
// The document names the routes, the env vars they require, and the
// process-wide settings. It is normally loaded from YAML; the engine only
// consumes the parsed form.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/routeflow/errors"
)

// Default settings applied when the document leaves them unset.
const (
	DefaultMaxConcurrentRoutes = 10
	DefaultTimeoutSeconds      = 30
	DefaultQueueCapacity       = 64
	DefaultShutdownGraceSecs   = 30
)

// Document is the parsed engine configuration.
type Document struct {
	Routes   []RouteConfig `yaml:"routes"   json:"routes"`
	EnvVars  []string      `yaml:"env_vars" json:"env_vars"`
	Settings Settings      `yaml:"settings" json:"settings"`
}

// RouteConfig declares one route: a source URI, an ordered processor chain,
// and one or more destination URIs.
type RouteConfig struct {
	Name       string            `yaml:"name"       json:"name"`
	From       string            `yaml:"from"       json:"from"`
	Processors []ProcessorConfig `yaml:"processors" json:"processors"`
	To         StringList        `yaml:"to"         json:"to"`
}

// ProcessorConfig is one processor declaration. The type selects the
// processor; all remaining fields are kept raw for the processor factory.
type ProcessorConfig struct {
	Type string
	Raw  json.RawMessage
}

// UnmarshalYAML captures the full mapping so each processor factory can
// decode its own configuration.
func (p *ProcessorConfig) UnmarshalYAML(value *yaml.Node) error {
	var fields map[string]any
	if err := value.Decode(&fields); err != nil {
		return err
	}
	t, _ := fields["type"].(string)
	if t == "" {
		return fmt.Errorf("processor missing type")
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	p.Type = t
	p.Raw = raw
	return nil
}

// UnmarshalJSON mirrors UnmarshalYAML for documents supplied as JSON.
func (p *ProcessorConfig) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	t, _ := fields["type"].(string)
	if t == "" {
		return fmt.Errorf("processor missing type")
	}
	p.Type = t
	p.Raw = append([]byte(nil), data...)
	return nil
}

// MarshalJSON re-emits the captured raw configuration.
func (p ProcessorConfig) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	return json.Marshal(map[string]string{"type": p.Type})
}

// StringList accepts either a single string or a list of strings.
type StringList []string

// UnmarshalYAML accepts `to: log://` and `to: [log://, file:///out/]`.
func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var one string
		if err := value.Decode(&one); err != nil {
			return err
		}
		*s = StringList{one}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*s = StringList(many)
		return nil
	default:
		return fmt.Errorf("to: expected string or list of strings")
	}
}

// UnmarshalJSON mirrors UnmarshalYAML.
func (s *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = StringList(many)
	return nil
}

// Settings holds the process-wide engine settings.
type Settings struct {
	MaxConcurrentRoutes int    `yaml:"max_concurrent_routes" json:"max_concurrent_routes"`
	DefaultTimeout      int    `yaml:"default_timeout"       json:"default_timeout"` // seconds
	LogLevel            string `yaml:"log_level"             json:"log_level"`
	QueueCapacity       int    `yaml:"queue_capacity"        json:"queue_capacity"`
	ShutdownGrace       int    `yaml:"shutdown_grace"        json:"shutdown_grace"` // seconds
}

// ApplyDefaults fills unset settings with their defaults.
func (s *Settings) ApplyDefaults() {
	if s.MaxConcurrentRoutes <= 0 {
		s.MaxConcurrentRoutes = DefaultMaxConcurrentRoutes
	}
	if s.DefaultTimeout <= 0 {
		s.DefaultTimeout = DefaultTimeoutSeconds
	}
	if s.QueueCapacity <= 0 {
		s.QueueCapacity = DefaultQueueCapacity
	}
	if s.ShutdownGrace <= 0 {
		s.ShutdownGrace = DefaultShutdownGraceSecs
	}
}

// Timeout returns the default per-operation timeout as a duration.
func (s Settings) Timeout() time.Duration {
	return time.Duration(s.DefaultTimeout) * time.Second
}

// Grace returns the shutdown grace period as a duration.
func (s Settings) Grace() time.Duration {
	return time.Duration(s.ShutdownGrace) * time.Second
}

// Validate checks the document and verifies required env vars against the
// snapshot. All failures are config errors; the engine refuses to start.
func (d *Document) Validate(env EnvSnapshot) error {
	if len(d.Routes) == 0 {
		return errors.WrapConfig(errors.ErrMissingConfig, "Document", "Validate", "at least one route required")
	}

	seen := make(map[string]bool, len(d.Routes))
	for i, route := range d.Routes {
		if route.Name == "" {
			return errors.WrapConfig(errors.ErrMissingConfig, "Document", "Validate",
				fmt.Sprintf("route %d has no name", i))
		}
		if seen[route.Name] {
			return errors.WrapConfig(errors.ErrInvalidConfig, "Document", "Validate",
				fmt.Sprintf("duplicate route name %q", route.Name))
		}
		seen[route.Name] = true

		if route.From == "" {
			return errors.WrapConfig(errors.ErrMissingConfig, "Document", "Validate",
				fmt.Sprintf("route %q has no source", route.Name))
		}
		if len(route.To) == 0 {
			return errors.WrapConfig(errors.ErrMissingConfig, "Document", "Validate",
				fmt.Sprintf("route %q has no destinations", route.Name))
		}
	}

	var missing []string
	for _, name := range d.EnvVars {
		if _, ok := env[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return errors.WrapConfig(errors.ErrMissingVariable, "Document", "Validate",
			fmt.Sprintf("required env vars not set: %s", strings.Join(missing, ", ")))
	}

	return nil
}

// Load reads a YAML document from path, applies defaults, and validates it
// against the environment snapshot.
func Load(path string, env EnvSnapshot) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfig(err, "config", "Load", "read document")
	}
	return Parse(data, env)
}

// Parse decodes a YAML document, applies defaults, and validates it.
func Parse(data []byte, env EnvSnapshot) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapConfig(err, "config", "Parse", "decode document")
	}
	doc.Settings.ApplyDefaults()
	if err := doc.Validate(env); err != nil {
		return nil, err
	}
	return &doc, nil
}
