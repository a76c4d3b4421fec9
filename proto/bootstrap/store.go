// Overmesh - decentralized key-based routing
// Copyright 2026 The Overmesh Authors. All rights reserved.
//
// Overmesh is free software: you can redistribute it and/or modify it under
// the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.
//
// Overmesh is distributed in the hope that it will be useful, but WITHOUT ANY
// WARRANTY; without even the implied warranty of MERCHANTABILITY or FITNESS
// FOR A PARTICULAR PURPOSE. See the GNU General Public License for more
// details.

// Contains the persistent contact store. Peers observed during a run are
// written out so a restarted node can rejoin without manual seeding.

package bootstrap

import (
	"github.com/overmesh/overmesh/identity"
	"github.com/overmesh/overmesh/link"
	"go.etcd.io/bbolt"
)

// Bucket holding the serialized contacts, keyed by identifier.
var storeBucket = []byte("contacts")

// Store persists bootstrap contacts across node restarts.
type Store struct {
	db *bbolt.DB
}

// OpenStore opens or creates the contact store at the given path.
func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(storeBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Put writes a contact into the store, overwriting any previous addresses
// recorded for the same identifier.
func (s *Store) Put(contact link.Contact) error {
	if contact.IsNull() {
		return nil
	}
	blob, err := contact.MarshalBinary()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(storeBucket).Put(contact.ID[:], blob)
	})
}

// Delete removes a contact from the store.
func (s *Store) Delete(id identity.Identifier) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(storeBucket).Delete(id[:])
	})
}

// Contacts returns every persisted contact.
func (s *Store) Contacts() ([]link.Contact, error) {
	var contacts []link.Contact
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(storeBucket).ForEach(func(key, blob []byte) error {
			contact := new(link.Contact)
			if err := contact.UnmarshalBinary(blob); err != nil {
				// Skip corrupted entries rather than failing the load
				return nil
			}
			contacts = append(contacts, *contact)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return contacts, nil
}

// Close flushes and closes the backing database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewStoredProvider creates a provider cycling through the persisted
// contacts of the store.
func NewStoredProvider(store *Store) (*Static, error) {
	contacts, err := store.Contacts()
	if err != nil {
		return nil, err
	}
	return NewStatic(contacts), nil
}
