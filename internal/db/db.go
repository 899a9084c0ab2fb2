// Package db 负责关系库连接与建表。
package db

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"coursetalk/internal/migration"
	"coursetalk/internal/routing"
	"coursetalk/internal/store/relational"
)

func Open(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	if err := relational.Migrate(gdb); err != nil {
		return nil, err
	}
	if err := routing.Migrate(gdb); err != nil {
		return nil, err
	}
	return gdb, migration.Migrate(gdb)
}
