// Package config 集中读取进程配置，.env 覆盖本地开发，环境变量优先。
package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`

	// 关系库（迁移目标）
	DatabaseURL string `mapstructure:"database_url"`

	// 文档库（迁移来源）
	DocumentURL       string `mapstructure:"document_url"`
	DocumentNamespace string `mapstructure:"document_namespace"`
	DocumentDatabase  string `mapstructure:"document_database"`
	DocumentUser      string `mapstructure:"document_user"`
	DocumentPass      string `mapstructure:"document_pass"`

	// 迁移参数
	MigrationPageSize   int    `mapstructure:"migration_page_size"`
	MigrationMaxRetries int    `mapstructure:"migration_max_retries"`
	ReconcileSchedule   string `mapstructure:"reconcile_schedule"`

	LogLevel string `mapstructure:"log_level"`
}

func Load() (*Config, error) {
	// .env 不存在不算错误
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("coursetalk")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("database_url", "host=localhost user=postgres password=postgres dbname=coursetalk port=5432 sslmode=disable")
	v.SetDefault("document_url", "ws://localhost:8000")
	v.SetDefault("document_namespace", "coursetalk")
	v.SetDefault("document_database", "forum")
	v.SetDefault("migration_page_size", 500)
	v.SetDefault("migration_max_retries", 5)
	v.SetDefault("reconcile_schedule", "@hourly")
	v.SetDefault("log_level", "info")

	// 显式绑定，AutomaticEnv 对 Unmarshal 不生效
	for _, key := range []string{
		"listen_addr", "database_url",
		"document_url", "document_namespace", "document_database", "document_user", "document_pass",
		"migration_page_size", "migration_max_retries", "reconcile_schedule", "log_level",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
