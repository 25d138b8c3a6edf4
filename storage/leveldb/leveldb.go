// Package leveldb stores islands and challenge progress in a LevelDB
// database, encoding records as little endian NBT the same way world data is
// stored.
package leveldb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/df-mc/goleveldb/leveldb/util"
	"github.com/dm-vev/hellblock/challenge"
	"github.com/dm-vev/hellblock/island"
	"github.com/google/uuid"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
	"github.com/segmentio/fasthash/fnv1a"
)

const (
	keyIsland   = 'i'
	keyProgress = 'p'
)

// DB is a LevelDB backed island and challenge store.
type DB struct {
	ldb *leveldb.DB
}

// Open opens or creates the database in dir.
func Open(dir string) (*DB, error) {
	opts := &opt.Options{
		Compression: opt.FlateCompression,
		BlockSize:   16 * opt.KiB,
	}
	ldb, err := leveldb.OpenFile(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", dir, err)
	}
	return &DB{ldb: ldb}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.ldb.Close()
}

func islandKey(owner uuid.UUID) []byte {
	return append([]byte{keyIsland}, owner[:]...)
}

func progressPrefix(player uuid.UUID) []byte {
	return append([]byte{keyProgress}, player[:]...)
}

func progressKey(player uuid.UUID, id string) []byte {
	return binary.LittleEndian.AppendUint64(progressPrefix(player), fnv1a.HashString64(id))
}

// Islands returns every stored island.
func (db *DB) Islands(ctx context.Context) ([]*island.Island, error) {
	it := db.ldb.NewIterator(util.BytesPrefix([]byte{keyIsland}), nil)
	defer it.Release()

	var out []*island.Island
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		isl, err := decodeIsland(it.Value())
		if err != nil {
			return nil, fmt.Errorf("island %x: %w", it.Key()[1:], err)
		}
		out = append(out, isl)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("iterate islands: %w", err)
	}
	return out, nil
}

// Island returns the island owned by owner or island.ErrNoIsland.
func (db *DB) Island(_ context.Context, owner uuid.UUID) (*island.Island, error) {
	data, err := db.ldb.Get(islandKey(owner), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, island.ErrNoIsland
	} else if err != nil {
		return nil, fmt.Errorf("read island: %w", err)
	}
	return decodeIsland(data)
}

// SaveIsland writes isl, replacing any previous version.
func (db *DB) SaveIsland(_ context.Context, isl *island.Island) error {
	data, err := nbt.MarshalEncoding(toRecord(isl), nbt.LittleEndian)
	if err != nil {
		return fmt.Errorf("encode island: %w", err)
	}
	if err := db.ldb.Put(islandKey(isl.Owner), data, nil); err != nil {
		return fmt.Errorf("write island: %w", err)
	}
	return nil
}

// DeleteIsland removes the island of owner. Deleting a missing island is not
// an error.
func (db *DB) DeleteIsland(_ context.Context, owner uuid.UUID) error {
	if err := db.ldb.Delete(islandKey(owner), nil); err != nil {
		return fmt.Errorf("delete island: %w", err)
	}
	return nil
}

func decodeIsland(data []byte) (*island.Island, error) {
	var r islandRecord
	if err := nbt.UnmarshalEncoding(data, &r, nbt.LittleEndian); err != nil {
		return nil, fmt.Errorf("decode island: %w", err)
	}
	return fromRecord(r)
}

// Progress returns the challenge progress of player.
func (db *DB) Progress(ctx context.Context, player uuid.UUID) (map[string]challenge.Record, error) {
	it := db.ldb.NewIterator(util.BytesPrefix(progressPrefix(player)), nil)
	defer it.Release()

	out := make(map[string]challenge.Record)
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var r progressRecord
		if err := nbt.UnmarshalEncoding(it.Value(), &r, nbt.LittleEndian); err != nil {
			return nil, fmt.Errorf("decode progress: %w", err)
		}
		out[r.Challenge] = challenge.Record{Count: int(r.Count), Completions: int(r.Completions)}
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("iterate progress: %w", err)
	}
	return out, nil
}

// SaveProgress replaces the challenge progress of player in a single batch.
func (db *DB) SaveProgress(_ context.Context, player uuid.UUID, records map[string]challenge.Record) error {
	batch := new(leveldb.Batch)
	it := db.ldb.NewIterator(util.BytesPrefix(progressPrefix(player)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return fmt.Errorf("iterate progress: %w", err)
	}
	for id, rec := range records {
		data, err := nbt.MarshalEncoding(progressRecord{
			Challenge:   id,
			Count:       int32(rec.Count),
			Completions: int32(rec.Completions),
		}, nbt.LittleEndian)
		if err != nil {
			return fmt.Errorf("encode progress: %w", err)
		}
		batch.Put(progressKey(player, id), data)
	}
	if err := db.ldb.Write(batch, nil); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return nil
}
