package config

import (
	"errors"
	"fmt"
	"maps"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type options struct {
	files       []string
	prefix      string
	environment map[string]string
}

// Option configures Load.
type Option func(*options)

// WithEnvFiles reads variables from the given dotenv files. Later files win
// over earlier ones and the process environment wins over all of them.
// Missing files are skipped. Defaults to ".env".
func WithEnvFiles(paths ...string) Option {
	return func(o *options) { o.files = paths }
}

// WithPrefix only considers variables starting with prefix, which is stripped
// before matching field tags.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithEnvironment replaces the process environment as the source of
// variables. Dotenv files are still read underneath it.
func WithEnvironment(vars map[string]string) Option {
	return func(o *options) { o.environment = vars }
}

// Load fills v from environment variables according to its env struct tags.
//
// Example:
//
//	type ServerConfig struct {
//		Addr     string        `env:"HTTP_ADDR" envDefault:":8080"`
//		Timeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
//		RedisURL string        `env:"REDIS_URL"`
//	}
//
//	var cfg ServerConfig
//	if err := config.Load(&cfg); err != nil {
//		// Handle error
//	}
func Load[T any](v *T, opts ...Option) error {
	if v == nil {
		return ErrNilPointer
	}

	o := options{files: []string{".env"}}
	for _, opt := range opts {
		opt(&o)
	}

	vars, err := readEnvFiles(o.files)
	if err != nil {
		return err
	}
	if o.environment != nil {
		maps.Copy(vars, o.environment)
	} else {
		maps.Copy(vars, env.ToMap(os.Environ()))
	}

	if err := env.ParseWithOptions(v, env.Options{
		Environment: vars,
		Prefix:      o.prefix,
	}); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// MustLoad works like Load but panics if loading fails.
func MustLoad[T any](v *T, opts ...Option) {
	if err := Load(v, opts...); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

func readEnvFiles(paths []string) (map[string]string, error) {
	vars := make(map[string]string)
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		fileVars, err := godotenv.Read(path)
		if err != nil {
			return nil, errors.Join(ErrReadingEnvFile, fmt.Errorf("%s: %w", path, err))
		}
		maps.Copy(vars, fileVars)
	}
	return vars, nil
}
