package vistream

import (
	"fmt"
	"os"

	"github.com/vistream/vistream/internal/visbackend"
	"gopkg.in/yaml.v3"
)

// Config is the visualizer section of a training config file.
//
// In YAML:
//
//	visualizer:
//	  name: visualizer
//	  save_dir: vis_out
//	  vis_backends:
//	    - type: LocalVisBackend
//	    - type: TensorboardVisBackend
//	    - type: WandbVisBackend
//	      init_kwargs:
//	        entity: my-team
type Config struct {
	// Name labels the visualizer instance.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// SaveDir is where local run data is written. Overrides the
	// settings default when set.
	SaveDir string `yaml:"save_dir,omitempty" json:"save_dir,omitempty"`

	// VisBackends is the ordered list of backends to dispatch to.
	// Order matters: data is forwarded to each backend in list order.
	VisBackends []visbackend.Config `yaml:"vis_backends" json:"vis_backends"`
}

// configFile is the top-level shape of a config file. Keys other than
// "visualizer" are ignored, so a full training config can be passed
// as-is.
type configFile struct {
	Visualizer Config `yaml:"visualizer"`
}

// ParseConfig reads a Config out of YAML bytes.
//
// The visualizer block may appear at the top level or nested under a
// "visualizer" key.
func ParseConfig(data []byte) (*Config, error) {
	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("vistream: failed to parse config: %v", err)
	}

	config := file.Visualizer
	if len(config.VisBackends) == 0 {
		// Not nested: try the top level.
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("vistream: failed to parse config: %v", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadConfig reads and parses a config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vistream: failed to read config: %v", err)
	}
	return ParseConfig(data)
}

// Validate checks the backend list for problems that would otherwise
// surface mid-run.
func (c *Config) Validate() error {
	if len(c.VisBackends) == 0 {
		return fmt.Errorf("vistream: config has no vis_backends")
	}

	for i := range c.VisBackends {
		backend := &c.VisBackends[i]

		if backend.Type == "" {
			return fmt.Errorf("vistream: vis_backends[%d] has no type", i)
		}
		if !KnownBackendType(backend.Type) {
			return fmt.Errorf(
				"vistream: unknown backend type %q (known: %s)",
				backend.Type, KnownBackendTypes())
		}
	}

	return nil
}
