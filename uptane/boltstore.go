package uptane

import (
	"encoding/json"

	"github.com/uplo-tech/bolt"
	"github.com/uplo-tech/errors"
)

var rolesBucket = []byte("roles")

// BoltRoleStore persists a Verifier's RoleMeta across process restarts.
// Uptane's version-monotonicity guarantee (spec.md §4.2 step 5) is only
// meaningful if the "last known version" survives a reboot - an attacker
// who can force a restart should not be able to roll a role back to an
// older, possibly-compromised version. The teacher repo leans on
// github.com/uplo-tech/bolt for exactly this kind of small, embedded,
// crash-safe key/value state (wallet and host metadata); the verifier
// reuses it rather than inventing another persistence format.
type BoltRoleStore struct {
	db *bolt.DB
}

// OpenBoltRoleStore opens (creating if necessary) a bolt database at path
// for storing role versions.
func OpenBoltRoleStore(path string) (*BoltRoleStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.AddContext(err, "could not open role store")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rolesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.AddContext(err, "could not initialize role store")
	}
	return &BoltRoleStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltRoleStore) Close() error {
	return s.db.Close()
}

// Load reads every persisted RoleMeta into v's in-memory trust anchors,
// skipping roles v does not already know about (AddMeta must be called
// first for each role the verifier is willing to track; Load only restores
// version numbers, never key sets, so a compromised store can't smuggle in
// a brand new trusted role).
func (s *BoltRoleStore) Load(v *Verifier) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rolesBucket)
		return b.ForEach(func(k, val []byte) error {
			var persisted struct {
				Version uint64 `json:"version"`
			}
			if err := json.Unmarshal(val, &persisted); err != nil {
				return errors.AddContext(err, "could not decode persisted role version")
			}
			role := RoleName(k)
			v.mu.Lock()
			if meta, ok := v.roles[role]; ok && persisted.Version > meta.Version {
				meta.Version = persisted.Version
				v.roles[role] = meta
			}
			v.mu.Unlock()
			return nil
		})
	})
}

// Save persists role's current version. Call it after a successful
// VerifySigned whose IsNew() is true.
func (s *BoltRoleStore) Save(role RoleName, version uint64) error {
	data, err := json.Marshal(struct {
		Version uint64 `json:"version"`
	}{version})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rolesBucket).Put([]byte(role), data)
	})
}
