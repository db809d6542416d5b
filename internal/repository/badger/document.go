package badger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/sakif/community-library/internal/apperror"
	"github.com/sakif/community-library/internal/repository"
)

var _ repository.Tx = (*tx)(nil)

type tx struct {
	txn      *badger.Txn
	readOnly bool
}

// envelope is the stored value.
type envelope struct {
	Version int64           `json:"v"`
	Body    json.RawMessage `json:"b"`
}

func key(collection, id string) []byte {
	return []byte(collection + "/" + id)
}

func (t *tx) load(collection, id string) (*envelope, error) {
	item, err := t.txn.Get(key(collection, id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("badger: getting %s/%s: %w", collection, id, err)
	}

	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("badger: reading %s/%s: %w", collection, id, err)
	}
	var env envelope
	if err := json.Unmarshal(val, &env); err != nil {
		return nil, fmt.Errorf("badger: decoding %s/%s: %w", collection, id, err)
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
	if err := json.Unmarshal(env.Body, dst); err != nil {
		return 0, fmt.Errorf("badger: decoding %s/%s body: %w", collection, id, err)
	}
	return env.Version, nil
}

func (t *tx) Put(collection, id string, doc any) (int64, error) {
	if t.readOnly {
		return 0, fmt.Errorf("badger: put %s/%s in read-only transaction", collection, id)
	}

	prev, err := t.load(collection, id)
	if err != nil {
		return 0, err
	}
	var prevVersion int64
	if prev != nil {
		prevVersion = prev.Version
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("badger: encoding %s/%s: %w", collection, id, err)
	}
	env := envelope{Version: repository.NextVersion(prevVersion), Body: body}
	val, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("badger: encoding %s/%s envelope: %w", collection, id, err)
	}

	if err := t.txn.Set(key(collection, id), val); err != nil {
		return 0, fmt.Errorf("badger: setting %s/%s: %w", collection, id, err)
	}
	return env.Version, nil
}

func (t *tx) Delete(collection, id string) (int64, error) {
	if t.readOnly {
		return 0, fmt.Errorf("badger: delete %s/%s in read-only transaction", collection, id)
	}

	prev, err := t.load(collection, id)
	if err != nil {
		return 0, err
	}
	if prev == nil {
		return 0, apperror.NotFound(repository.Resource(collection), id)
	}
	if err := t.txn.Delete(key(collection, id)); err != nil {
		return 0, fmt.Errorf("badger: deleting %s/%s: %w", collection, id, err)
	}
	return prev.Version, nil
}

// Scan collects the collection first and closes the iterator before calling
// fn, so fn may write through the same transaction.
func (t *tx) Scan(collection string, fn func(id string, version int64, decode repository.DecodeFunc) error) error {
	prefix := []byte(collection + "/")

	type entry struct {
		id  string
		env envelope
	}
	var all []entry

	it := t.txn.NewIterator(badger.DefaultIteratorOptions)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		id := strings.TrimPrefix(string(item.KeyCopy(nil)), string(prefix))

		val, err := item.ValueCopy(nil)
		if err != nil {
			it.Close()
			return fmt.Errorf("badger: reading %s/%s: %w", collection, id, err)
		}
		var env envelope
		if err := json.Unmarshal(val, &env); err != nil {
			it.Close()
			return fmt.Errorf("badger: decoding %s/%s: %w", collection, id, err)
		}
		all = append(all, entry{id: id, env: env})
	}
	it.Close()

	for _, e := range all {
		body := e.env.Body
		decode := func(dst any) error {
			if err := json.Unmarshal(body, dst); err != nil {
				return fmt.Errorf("badger: decoding %s/%s body: %w", collection, e.id, err)
			}
			return nil
		}
		if err := fn(e.id, e.env.Version, decode); err != nil {
			return err
		}
	}
	return nil
}
