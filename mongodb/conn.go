package mongodb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultDatabase is used when no database name is configured.
const DefaultDatabase = "xaisync"

// Collection names shared with the web application.
const (
	JobsCollection     = "scheduledposts"
	AccountsCollection = "accounts"
	UsersCollection    = "users"
	CountsCollection   = "dailypostcounts"
)

// Connection is the process-wide MongoDB session. Connect is idempotent and
// safe to call from any component that needs the database.
type Connection struct {
	uri    string
	dbName string

	mu     sync.Mutex
	client *mongo.Client
	db     *mongo.Database
}

// NewConnection prepares a connection without dialing.
func NewConnection(uri, dbName string) *Connection {
	if dbName == "" {
		dbName = DefaultDatabase
	}
	return &Connection{uri: uri, dbName: dbName}
}

// Connect dials and pings on first use and returns the database handle.
func (c *Connection) Connect(ctx context.Context) (*mongo.Database, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return c.db, nil
	}
	if c.uri == "" {
		return nil, fmt.Errorf("mongodb uri is required")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping: %w", err)
	}

	c.client = client
	c.db = client.Database(c.dbName)
	return c.db, nil
}

// Ping checks the live connection.
func (c *Connection) Ping(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client == nil {
		_, err := c.Connect(ctx)
		return err
	}
	return client.Ping(ctx, readpref.Primary())
}

// Disconnect closes the session. The connection may be reused afterwards.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Disconnect(ctx)
	c.client, c.db = nil, nil
	return err
}

// Stores groups the stores backed by one database.
type Stores struct {
	Jobs     *JobStore
	Accounts *AccountStore
	Users    *UserStore
	Counts   *CounterStore
}

// Open connects and builds every store over the default collections.
func (c *Connection) Open(ctx context.Context) (*Stores, error) {
	db, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	jobs, err := NewJobStore(JobStoreConfig{Collection: db.Collection(JobsCollection), Pinger: c})
	if err != nil {
		return nil, err
	}
	return &Stores{
		Jobs:     jobs,
		Accounts: NewAccountStore(db.Collection(AccountsCollection)),
		Users:    NewUserStore(db.Collection(UsersCollection)),
		Counts:   NewCounterStore(db.Collection(CountsCollection)),
	}, nil
}

// EnsureIndexes creates the indexes the stores rely on.
func (s *Stores) EnsureIndexes(ctx context.Context) error {
	if err := s.Jobs.EnsureIndexes(ctx); err != nil {
		return err
	}
	if err := s.Accounts.EnsureIndexes(ctx); err != nil {
		return err
	}
	return s.Counts.EnsureIndexes(ctx)
}
