package mongo

import (
	"context"
	"sync"
	"time"

	"ChatWave/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Config represents the MongoDB configuration.
type Config struct {
	Uri         string
	Address     []string
	Database    string
	Username    string
	Password    string
	AuthSource  string
	MaxPoolSize int
}

var (
	mongoOnce sync.Once
	cli       *mongo.Client
	dbName    string
)

func applyConfigToOptions(cfg *Config) (*options.ClientOptions, error) {
	var opts *options.ClientOptions

	switch {
	case cfg.Uri != "":
		// full URI wins, it may carry ?authSource= etc.
		opts = options.Client().ApplyURI(cfg.Uri)
	case len(cfg.Address) > 0:
		opts = options.Client().SetHosts(cfg.Address)
	default:
		return nil, errs.New("mongo uri or address is required")
	}

	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxPoolSize))
	}

	if cfg.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: cfg.AuthSource,
		})
	}
	return opts, nil
}

// Init connects the process-wide client (singleton) and pings the primary.
func Init(cfg *Config) error {
	var initErr error
	mongoOnce.Do(func() {
		opts, err := applyConfigToOptions(cfg)
		if err != nil {
			initErr = err
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		c, err := mongo.Connect(ctx, opts)
		if err != nil {
			initErr = errs.WrapMsg(err, "mongo connect")
			return
		}
		if err := c.Ping(ctx, readpref.Primary()); err != nil {
			initErr = errs.WrapMsg(err, "mongo ping")
			return
		}
		cli = c
		dbName = cfg.Database
	})
	return initErr
}

// DB returns the configured database handle; panics if Init was never called.
func DB() *mongo.Database {
	if cli == nil {
		panic("mongo not initialized, call mongo.Init first")
	}
	return cli.Database(dbName)
}

// Close disconnects the client.
func Close(ctx context.Context) error {
	if cli == nil {
		return nil
	}
	return cli.Disconnect(ctx)
}
