// Package config loads service configuration from the environment and an
// optional YAML catalog of assets and quests.
//
// Environment variables are read with envconfig after an optional .env file
// is loaded. Catalog files support ${VAR} syntax for environment variable
// interpolation.
package config
