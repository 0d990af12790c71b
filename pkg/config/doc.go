// Package config loads configuration structs from environment variables.
//
// Load parses env struct tags with github.com/caarlos0/env/v11. Variables come
// from the process environment layered over dotenv files read with
// github.com/joho/godotenv (".env" by default, skipped when missing):
//
//	type Config struct {
//		Addr    string        `env:"HTTP_ADDR" envDefault:":8080"`
//		Timeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
//	}
//
//	var cfg Config
//	if err := config.Load(&cfg, config.WithEnvFiles(".env", ".env.local")); err != nil {
//		log.Fatal(err)
//	}
//
// WithPrefix scopes a struct to prefixed variables and WithEnvironment swaps
// the process environment for an explicit map, which keeps tests hermetic.
//
// Errors wrap ErrParsingConfig or ErrReadingEnvFile; compare them with
// errors.Is.
package config
