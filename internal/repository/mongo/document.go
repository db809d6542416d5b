package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/community-library/internal/apperror"
	"github.com/sakif/community-library/internal/repository"
)

var _ repository.Tx = (*tx)(nil)

type tx struct {
	ctx      context.Context
	db       *mongo.Database
	readOnly bool
}

type envelope struct {
	ID      string   `bson:"_id"`
	Version int64    `bson:"version"`
	Body    bson.Raw `bson:"body"`
}

func (t *tx) load(collection, id string) (*envelope, error) {
	var env envelope
	err := t.db.Collection(collection).FindOne(t.ctx, bson.M{"_id": id}).Decode(&env)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("mongo: getting %s/%s: %w", collection, id, err)
	}
	return &env, nil
}

func (t *tx) Get(collection, id string, dst any) (int64, error) {
	env, err := t.load(collection, id)
	if err != nil {
		return 0, err
	}
	if env == nil {
		return 0, apperror.NotFound(repository.Resource(collection), id)
	}
	if err := bson.Unmarshal(env.Body, dst); err != nil {
		return 0, fmt.Errorf("mongo: decoding %s/%s: %w", collection, id, err)
	}
	return env.Version, nil
}

func (t *tx) Put(collection, id string, doc any) (int64, error) {
	if t.readOnly {
		return 0, fmt.Errorf("mongo: put %s/%s outside a transaction", collection, id)
	}

	prev, err := t.load(collection, id)
	if err != nil {
		return 0, err
	}
	var prevVersion int64
	if prev != nil {
		prevVersion = prev.Version
	}

	body, err := bson.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("mongo: encoding %s/%s: %w", collection, id, err)
	}
	env := envelope{ID: id, Version: repository.NextVersion(prevVersion), Body: body}

	_, err = t.db.Collection(collection).ReplaceOne(t.ctx,
		bson.M{"_id": id}, env, options.Replace().SetUpsert(true))
	if err != nil {
		return 0, fmt.Errorf("mongo: putting %s/%s: %w", collection, id, err)
	}
	return env.Version, nil
}

func (t *tx) Delete(collection, id string) (int64, error) {
	if t.readOnly {
		return 0, fmt.Errorf("mongo: delete %s/%s outside a transaction", collection, id)
	}

	prev, err := t.load(collection, id)
	if err != nil {
		return 0, err
	}
	if prev == nil {
		return 0, apperror.NotFound(repository.Resource(collection), id)
	}
	if _, err := t.db.Collection(collection).DeleteOne(t.ctx, bson.M{"_id": id}); err != nil {
		return 0, fmt.Errorf("mongo: deleting %s/%s: %w", collection, id, err)
	}
	return prev.Version, nil
}

func (t *tx) Scan(collection string, fn func(id string, version int64, decode repository.DecodeFunc) error) error {
	cur, err := t.db.Collection(collection).Find(t.ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("mongo: scanning %s: %w", collection, err)
	}
	var all []envelope
	if err := cur.All(t.ctx, &all); err != nil {
		return fmt.Errorf("mongo: reading %s: %w", collection, err)
	}

	for _, env := range all {
		body := env.Body
		decode := func(dst any) error {
			if err := bson.Unmarshal(body, dst); err != nil {
				return fmt.Errorf("mongo: decoding %s/%s: %w", collection, env.ID, err)
			}
			return nil
		}
		if err := fn(env.ID, env.Version, decode); err != nil {
			return err
		}
	}
	return nil
}
