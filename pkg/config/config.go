package config

import (
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-trusted-relay/pkg/authority"
	"github.com/jeremyhahn/go-trusted-relay/pkg/connector"
	"github.com/jeremyhahn/go-trusted-relay/pkg/credential"
	"github.com/jeremyhahn/go-trusted-relay/pkg/store/requeststore"
)

var (
	ErrDuplicateConnector = errors.New("config: duplicate connector name")
	ErrUnnamedConnector   = errors.New("config: connector requires a name or authority id")
)

// Defaults applied before the configuration file is read
var DefaultConfig = Relay{
	LogDir:       "trusted-data/log",
	PlatformDir:  "trusted-data",
	RequestStore: requeststore.DefaultConfig,
}

// Relay is the complete relay configuration, read from config.yaml
type Relay struct {
	ConfigDir    string              `yaml:"config-dir" json:"config_dir" mapstructure:"config-dir"`
	Debug        bool                `yaml:"debug" json:"debug" mapstructure:"debug"`
	LogDir       string              `yaml:"log-dir" json:"log_dir" mapstructure:"log-dir"`
	PlatformDir  string              `yaml:"platform-dir" json:"platform_dir" mapstructure:"platform-dir"`
	Authority    authority.Config    `yaml:"authority" json:"authority" mapstructure:"authority"`
	Connectors   []connector.Config  `yaml:"connectors" json:"connectors" mapstructure:"connectors"`
	Credentials  credential.Config   `yaml:"credentials" json:"credentials" mapstructure:"credentials"`
	Metrics      Metrics             `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
	RequestStore requeststore.Config `yaml:"request-store" json:"request_store" mapstructure:"request-store"`
}

// Metrics configures the plain HTTP listener exposing prometheus metrics
// while the connectors run. A zero port disables it.
type Metrics struct {
	ListenAddress string `yaml:"listen" json:"listen" mapstructure:"listen"`
	Port          int    `yaml:"port" json:"port" mapstructure:"port"`
}

// Ensures every connector is named, either explicitly or by the ID of
// its remote authority, and that names are unique.
func (c *Relay) Validate() error {
	names := make(map[string]struct{}, len(c.Connectors))
	for i := range c.Connectors {
		name := ConnectorName(&c.Connectors[i])
		if name == "" {
			return fmt.Errorf("%w: connector %d", ErrUnnamedConnector, i)
		}
		if _, ok := names[name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateConnector, name)
		}
		names[name] = struct{}{}
	}
	return nil
}

func ConnectorName(c *connector.Config) string {
	if c.Name != "" {
		return c.Name
	}
	return c.Authority.ID
}
