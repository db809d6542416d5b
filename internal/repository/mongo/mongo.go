// Package mongo implements repository.Store on MongoDB.
//
// Each logical collection is a Mongo collection of envelopes
//
//	{_id: <id>, version: <int64>, body: <document>}
//
// so the version stamp lives beside the document instead of inside it.
// Update runs inside a multi-document transaction (session.WithTransaction),
// which needs a replica set; the driver re-runs the callback on transient
// transaction errors such as write conflicts.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/community-library/internal/repository"
)

var _ repository.Store = (*DB)(nil)

type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to uri and selects database.
func New(ctx context.Context, uri, database string) (*DB, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connecting: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: pinging: %w", err)
	}

	return &DB{client: client, db: client.Database(database)}, nil
}

func (d *DB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}

// Drop removes the whole database. Used by tests.
func (d *DB) Drop(ctx context.Context) error {
	return d.db.Drop(ctx)
}

func (d *DB) Update(ctx context.Context, fn func(tx repository.Tx) error) error {
	sess, err := d.client.StartSession()
	if err != nil {
		return fmt.Errorf("mongo: starting session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(&tx{ctx: sc, db: d.db})
	})
	return err
}

// View reads without a transaction; each Get sees the latest committed
// document.
func (d *DB) View(ctx context.Context, fn func(tx repository.Tx) error) error {
	return fn(&tx{ctx: ctx, db: d.db, readOnly: true})
}
