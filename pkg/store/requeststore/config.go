package requeststore

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
)

type Backend string

func (b Backend) String() string {
	return string(b)
}

const (
	BackendAferoFS     Backend = "AFERO_FS"
	BackendAferoMemory Backend = "AFERO_MEMORY"
)

var (
	ErrInvalidBackend        = errors.New("requeststore: invalid backend")
	ErrInvalidReadBufferSize = errors.New("requeststore: invalid read buffer size")

	DefaultConfig = Config{
		Backend:        BackendAferoFS.String(),
		ReadBufferSize: 50,
		RootDir:        "trusted-data/requests",
		Serializer:     "json",
	}
)

type Config struct {
	Backend        string `yaml:"backend" json:"backend" mapstructure:"backend"`
	ReadBufferSize int    `yaml:"read-buffer-size" json:"read_buffer_size" mapstructure:"read-buffer-size"`
	RootDir        string `yaml:"home" json:"home" mapstructure:"home"`
	Serializer     string `yaml:"serializer" json:"serializer" mapstructure:"serializer"`
}

func ParseBackend(backend string) (afero.Fs, error) {
	switch Backend(backend) {
	case BackendAferoFS:
		return afero.NewOsFs(), nil
	case BackendAferoMemory:
		return afero.NewMemMapFs(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidBackend, backend)
}
