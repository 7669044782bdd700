package vm

import (
	"bytes"
	"encoding/gob"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var moduleBucket = []byte("modules")

// ModuleStore is an optional, disk-backed store of precompiled Bytecode
// modules keyed by name, supplementing the pure in-process Load (§4.1)
// with a way to fetch previously-assembled units by name. Grounded on the
// nspcc-dev/neo-go dependency manifest
// (_examples/other_examples/manifests/nspcc-dev-neo-go/go.mod), which
// carries go.etcd.io/bbolt as its persistence layer; additive only — it
// never changes Load's semantics, it just supplies bytes to hand to it.
type ModuleStore struct {
	db *bolt.DB
}

// OpenModuleStore opens (creating if necessary) a bbolt database at path
// with the module bucket ready for use.
func OpenModuleStore(path string) (*ModuleStore, error) {
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("opening module store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(moduleBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing module store: %w", err)
	}
	return &ModuleStore{db: db}, nil
}

func (s *ModuleStore) Close() error { return s.db.Close() }

// storedModule is the gob-encoded record persisted per module name: a
// container header (for magic-number verification, §6) plus the raw
// Assembly payload.
type storedModule struct {
	Header ContainerHeader
	Asm    Assembly
}

// Put encodes asm with the current magic number and writes it under name.
func (s *ModuleStore) Put(name string, asm Assembly) error {
	var buf bytes.Buffer
	rec := storedModule{Header: ContainerHeader{Magic: MagicNumber()}, Asm: asm}
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("encoding module %s: %w", name, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(moduleBucket).Put([]byte(name), buf.Bytes())
	})
}

// Get fetches and decodes the module stored under name, verifying its
// magic number (§6) before returning the Assembly.
func (s *ModuleStore) Get(name string) (Assembly, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(moduleBucket).Get([]byte(name))
		if v == nil {
			return fmt.Errorf("module %s not found", name)
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	var rec storedModule
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decoding module %s: %w", name, err)
	}
	if !rec.Header.VerifyMagic() {
		return nil, fmt.Errorf("module %s: %w", name, errBadMagicNumber)
	}
	return rec.Asm, nil
}
