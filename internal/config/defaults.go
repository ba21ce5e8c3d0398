package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.dsn", "host=localhost user=postgres password=password dbname=jobtracker port=5432 sslmode=disable")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.namespace", "jobquest")
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.ttl_seconds", map[string]int{
		"default":         300,   // 5 minutes
		"search":          180,   // search results go stale fastest
		"company":         3600,  // companies rarely change
		"user":            1800,  // 30 minutes
		"job":             600,   // 10 minutes
		"job_application": 900,   // 15 minutes
		"graphql_query":   300,   // whole-query results
		"session":         86400, // 24 hours
	})

	v.SetDefault("loader.wait_ms", 2)
	v.SetDefault("loader.max_batch", 0) // unbounded

	v.SetDefault("request.timeout_seconds", 30)

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")

	v.SetDefault("llm.model", "gemini-2.5-flash")
}
