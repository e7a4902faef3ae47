// Package badger implements persist.Store on top of BadgerDB: one
// key-value pair per record under a namespaced key prefix, read/write
// inside db.View/db.Update transactions.
package badger

import (
	"context"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/nexus-project/nexus/pkg/nexuserr"
	"github.com/nexus-project/nexus/pkg/persist"
)

// Key Namespace
//
// Data Type      Prefix     Key Format         Value Type
// ===========================================================
// Nexus Info     "ni:"      ni:<uuid>          NexusInfo (JSON)

const prefixNexusInfo = "ni:"

func keyNexusInfo(id uuid.UUID) []byte {
	return []byte(prefixNexusInfo + id.String())
}

// Store is a BadgerDB-backed persist.Store.
type Store struct {
	db *badgerdb.DB
}

// Open opens (or creates) a BadgerDB instance rooted at dir and wraps it as
// a persist.Store.
func Open(dir string) (*Store, error) {
	opts := badgerdb.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, nexuserr.Wrap("badger.Open", nexuserr.PersistentStore, dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Put(ctx context.Context, nexusUUID uuid.UUID, info *persist.NexusInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := persist.Encode(info)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(keyNexusInfo(nexusUUID), data)
	})
	if err != nil {
		return nexuserr.Wrap("badger.Put", nexuserr.PersistentStore, nexusUUID.String(), err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, nexusUUID uuid.UUID) (*persist.NexusInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var info *persist.NexusInfo
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyNexusInfo(nexusUUID))
		if err == badgerdb.ErrKeyNotFound {
			return persist.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := persist.Decode(val)
			if err != nil {
				return err
			}
			info = decoded
			return nil
		})
	})
	if err != nil {
		if code, ok := nexuserr.CodeOf(err); ok && code == nexuserr.PersistentStore {
			return nil, err
		}
		return nil, nexuserr.Wrap("badger.Get", nexuserr.PersistentStore, nexusUUID.String(), err)
	}
	return info, nil
}

func (s *Store) Delete(ctx context.Context, nexusUUID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		err := txn.Delete(keyNexusInfo(nexusUUID))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return nexuserr.Wrap("badger.Delete", nexuserr.PersistentStore, nexusUUID.String(), err)
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger persist store: %w", err)
	}
	return nil
}
