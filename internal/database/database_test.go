package database

import (
	"testing"

	"gorm.io/gorm/logger"
)

func TestDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5433, User: "render", Password: "secret", DBName: "pipeline", SSLMode: "require"}
	want := "host=db port=5433 user=render password=secret dbname=pipeline sslmode=require"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestGormLogLevel(t *testing.T) {
	tests := map[string]logger.LogLevel{
		"silent": logger.Silent,
		"error":  logger.Error,
		"warn":   logger.Warn,
		"info":   logger.Info,
		"":       logger.Info,
	}
	for level, want := range tests {
		if got := gormLogLevel(level); got != want {
			t.Errorf("gormLogLevel(%q) = %v, want %v", level, got, want)
		}
	}
}
