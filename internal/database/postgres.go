package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/viper"
)

// Postgres holds the durable side of the service: user accounts and the
// engine event journal. The rental engine itself runs in memory and never
// touches it directly.

type postgresSettings struct {
	host         string
	port         string
	user         string
	password     string
	name         string
	sslMode      string
	maxOpen      int
	maxIdle      int
	connLifetime time.Duration
}

func loadPostgresSettings() postgresSettings {
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "unitlease")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Minute*5)

	return postgresSettings{
		host:         viper.GetString("database.host"),
		port:         viper.GetString("database.port"),
		user:         viper.GetString("database.user"),
		password:     viper.GetString("database.password"),
		name:         viper.GetString("database.name"),
		sslMode:      viper.GetString("database.ssl_mode"),
		maxOpen:      viper.GetInt("database.max_open_conns"),
		maxIdle:      viper.GetInt("database.max_idle_conns"),
		connLifetime: viper.GetDuration("database.conn_max_lifetime"),
	}
}

func (s postgresSettings) dsn() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		s.host, s.port, s.user, s.password, s.name, s.sslMode)
}

// Connect opens and verifies the Postgres pool using the database.* config
// keys, applying the configured pool limits.
func Connect() (*sql.DB, error) {
	settings := loadPostgresSettings()

	db, err := sql.Open("postgres", settings.dsn())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db.SetMaxOpenConns(settings.maxOpen)
	db.SetMaxIdleConns(settings.maxIdle)
	db.SetConnMaxLifetime(settings.connLifetime)

	log.Printf("[DB] connected to %s:%s/%s", settings.host, settings.port, settings.name)
	return db, nil
}

// MustConnect is Connect for process startup: the service cannot run without
// its account store, so a connection failure is fatal.
func MustConnect() *sql.DB {
	db, err := Connect()
	if err != nil {
		log.Fatalf("[DB] %v", err)
	}
	return db
}
