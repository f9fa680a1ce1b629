// Package config provides the public SDK configuration API.
//
// It re-exports the internal configuration types and helpers so external projects can
// embed AuthBridge without importing internal packages.
package config

import internalconfig "github.com/router-for-me/AuthBridge/internal/config"

type SDKConfig = internalconfig.SDKConfig

type Config = internalconfig.Config

type RoutesConfig = internalconfig.RoutesConfig
type RefreshConfig = internalconfig.RefreshConfig
type StorageConfig = internalconfig.StorageConfig
type RedisStorageConfig = internalconfig.RedisStorageConfig
type PostgresStorageConfig = internalconfig.PostgresStorageConfig
type ObjectStorageConfig = internalconfig.ObjectStorageConfig
type GitStorageConfig = internalconfig.GitStorageConfig
type SessionsConfig = internalconfig.SessionsConfig

const (
	StorageMemory   = internalconfig.StorageMemory
	StorageFile     = internalconfig.StorageFile
	StorageRedis    = internalconfig.StorageRedis
	StoragePostgres = internalconfig.StoragePostgres
	StorageObject   = internalconfig.StorageObject
	StorageGit      = internalconfig.StorageGit

	DuplicateLoginKeepExisting = internalconfig.DuplicateLoginKeepExisting
	DuplicateLoginRefresh      = internalconfig.DuplicateLoginRefresh
	MissingSessionError        = internalconfig.MissingSessionError
	MissingSessionIgnore       = internalconfig.MissingSessionIgnore
)

func Default() *Config { return internalconfig.Default() }

func LoadConfig(configFile string) (*Config, error) { return internalconfig.LoadConfig(configFile) }

func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	return internalconfig.LoadConfigOptional(configFile, optional)
}
