//go:build integration

package containers

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

// MySQLContainer is a MySQL server for the gorm cache and push stores.
type MySQLContainer struct {
	container *mysql.MySQLContainer
	dsn       string
}

// MySQLConfig customises the database created at startup.
type MySQLConfig struct {
	Database string
	Username string
	Password string
	// ImageTag defaults to "8.0".
	ImageTag string
}

// DefaultMySQLConfig returns the settings used when nil is passed.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		Database: "storyapp_test",
		Username: "storyapp",
		Password: "storyapp",
		ImageTag: "8.0",
	}
}

// NewMySQLContainer starts MySQL and returns once it accepts connections.
func NewMySQLContainer(ctx context.Context, cfg *MySQLConfig) (*MySQLContainer, error) {
	if cfg == nil {
		def := DefaultMySQLConfig()
		cfg = &def
	}

	c, err := mysql.Run(ctx, "mysql:"+cfg.ImageTag,
		mysql.WithDatabase(cfg.Database),
		mysql.WithUsername(cfg.Username),
		mysql.WithPassword(cfg.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("start mysql: %w", err)
	}

	// gorm needs parseTime to scan DATETIME columns into time.Time
	dsn, err := c.ConnectionString(ctx, "parseTime=true", "charset=utf8mb4")
	if err != nil {
		terminate(c)
		return nil, fmt.Errorf("mysql connection string: %w", err)
	}
	return &MySQLContainer{container: c, dsn: dsn}, nil
}

// GetDSN returns a go-sql-driver DSN usable as datastore.Config.DSN.
func (c *MySQLContainer) GetDSN() string { return c.dsn }

// Terminate stops and removes the server.
func (c *MySQLContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	return c.container.Terminate(ctx)
}
