// Package config loads typed configuration from environment variables.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11:
//
//   - Load parses the environment into any struct using `env` tags and caches
//     the result per type and prefix, so each configuration is parsed once.
//   - WithPrefix lets one struct be loaded several times under different
//     variable prefixes, e.g. one statemachine.Config per machine.
//   - LoadEnv reads dotenv files, later files overriding earlier ones.
//   - MustLoad and MustLoadEnv panic on failure for configuration the process
//     cannot start without.
//   - ResetCache drops cached values, which is handy in tests.
//
// A failed parse is not cached; the next Load call tries again.
//
// # Usage
//
//	var orders statemachine.Config
//	config.MustLoad(&orders, config.WithPrefix("ORDERS_"))
//
//	fsm := statemachine.MustNew[*Order](persister,
//		statemachine.WithName("orders"),
//		statemachine.WithConfig(orders),
//	)
package config
