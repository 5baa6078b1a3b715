package mongo

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// ClientConfig configures the session store connection
type ClientConfig struct {
	URI            string
	Database       string
	MaxPoolSize    uint64
	ConnectTimeout time.Duration
}

// DefaultClientConfig returns settings for a local development server
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "livecaption",
		MaxPoolSize:    4,
		ConnectTimeout: 10 * time.Second,
	}
}

// Client owns the driver connection and the session database
type Client struct {
	conn     *mongo.Client
	Database *mongo.Database
	logger   *zap.Logger
}

// NewClient connects and pings the server. Empty config fields take the
// values from DefaultClientConfig.
func NewClient(ctx context.Context, config ClientConfig, logger *zap.Logger) (*Client, error) {
	defaults := DefaultClientConfig()
	if config.URI == "" {
		config.URI = defaults.URI
	}
	if config.Database == "" {
		config.Database = defaults.Database
	}
	if config.MaxPoolSize == 0 {
		config.MaxPoolSize = defaults.MaxPoolSize
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}

	opts := options.Client().
		ApplyURI(config.URI).
		SetMaxPoolSize(config.MaxPoolSize).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(config.ConnectTimeout)

	ctx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	conn, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session store: %w", err)
	}
	if err := conn.Ping(ctx, nil); err != nil {
		_ = conn.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping session store: %w", err)
	}

	logger.Info("Session store connected",
		zap.String("host", hostOf(config.URI)),
		zap.String("database", config.Database))

	return &Client{
		conn:     conn,
		Database: conn.Database(config.Database),
		logger:   logger,
	}, nil
}

// Close disconnects from the server
func (c *Client) Close(ctx context.Context) error {
	if err := c.conn.Disconnect(ctx); err != nil {
		c.logger.Error("Failed to disconnect session store", zap.Error(err))
		return err
	}
	c.logger.Info("Session store disconnected")
	return nil
}

// hostOf strips credentials and options from a connection string
func hostOf(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
