package modelstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/lottery-engine/internal/types"
	"github.com/stitts-dev/lottery-engine/pkg/logger"
)

const (
	artifactPrefix = "artifact:"
	strategyPrefix = "strategy:"
)

// Store is a content-addressed model artifact store backed by an
// embedded badger database. Artifacts are keyed by the hex sha256 of
// their bytes, so identical artifacts share one entry; a secondary
// index maps each strategy to its latest artifact hash.
type Store struct {
	db     *badger.DB
	logger *logrus.Entry
}

// Open opens a persistent store at path, creating the directory when
// missing
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("model store path is required")
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("create model store directory %s: %w", path, err)
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open model store: %w", err)
	}
	return newStore(db), nil
}

// OpenInMemory opens a store that keeps everything in memory. Used in
// tests; data is lost on Close.
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory model store: %w", err)
	}
	return newStore(db), nil
}

func newStore(db *badger.DB) *Store {
	return &Store{db: db, logger: logger.WithComponent("model_store")}
}

// Close releases the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores an artifact and returns its hash. Existing artifacts with
// the same bytes are not rewritten. When strategyID is non-empty the
// strategy index is pointed at the new hash.
func (s *Store) Put(strategyID string, blob []byte) (string, error) {
	sum := sha256.Sum256(blob)
	hash := hex.EncodeToString(sum[:])

	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(artifactPrefix + hash)
		if _, err := txn.Get(key); err == nil {
			// Content already stored, only refresh the index
		} else if errors.Is(err, badger.ErrKeyNotFound) {
			if err := txn.Set(key, blob); err != nil {
				return err
			}
		} else {
			return err
		}

		if strategyID != "" {
			return txn.Set([]byte(strategyPrefix+strategyID), []byte(hash))
		}
		return nil
	})
	if err != nil {
		return "", types.WrapStorage("put artifact", err)
	}

	s.logger.WithFields(logrus.Fields{
		"hash":        hash,
		"strategy_id": strategyID,
		"size_bytes":  len(blob),
	}).Debug("Stored model artifact")

	return hash, nil
}

// Get returns the artifact for hash, verifying the stored bytes still
// match their address
func (s *Store) Get(hash string) ([]byte, error) {
	var blob []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(artifactPrefix + hash))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrArtifactNotFound, hash)
	}
	if err != nil {
		return nil, types.WrapStorage("get artifact", err)
	}

	sum := sha256.Sum256(blob)
	if hex.EncodeToString(sum[:]) != hash {
		return nil, fmt.Errorf("%w: %s", types.ErrCorruptArtifact, hash)
	}
	return blob, nil
}

// LatestForStrategy returns the hash and bytes of the strategy's most
// recently stored artifact
func (s *Store) LatestForStrategy(strategyID string) (string, []byte, error) {
	var hash string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(strategyPrefix + strategyID))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		hash = string(raw)
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil, fmt.Errorf("%w: no artifact for strategy %s", types.ErrArtifactNotFound, strategyID)
	}
	if err != nil {
		return "", nil, types.WrapStorage("resolve strategy artifact", err)
	}

	blob, err := s.Get(hash)
	if err != nil {
		return "", nil, err
	}
	return hash, blob, nil
}

// Delete removes the strategy index entry. Artifact bytes stay in place
// because other strategies may share them.
func (s *Store) Delete(strategyID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(strategyPrefix + strategyID))
	})
	if err != nil {
		return types.WrapStorage("delete strategy artifact", err)
	}
	return nil
}
