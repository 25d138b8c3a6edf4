package generator

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/brentp/intintmap"
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
)

// Pack packs a block position into a single key. X and Z keep 26 bits and Y
// keeps 12 bits, which covers every position a world can hold.
func Pack(pos cube.Pos) int64 {
	return int64(pos[0]&0x3ffffff)<<38 | int64(pos[2]&0x3ffffff)<<12 | int64(pos[1]&0xfff)
}

// Unpack reverses Pack.
func Unpack(k int64) cube.Pos {
	return cube.Pos{int(k >> 38), int((k << 52) >> 52), int((k << 26) >> 38)}
}

// Index remembers generator locations and the island slot they belong to.
// A location is forgotten ttl after it last produced a block. A location is
// fresh from the moment it produces a block until the block is taken.
type Index struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	slots    *intintmap.Map
	deadline *intintmap.Map
	fresh    *intintmap.Map
}

// NewIndex returns an empty Index.
func NewIndex(ttl time.Duration) *Index {
	return &Index{
		ttl:      ttl,
		now:      time.Now,
		slots:    intintmap.New(256, 0.6),
		deadline: intintmap.New(256, 0.6),
		fresh:    intintmap.New(256, 0.6),
	}
}

// Put records that pos produced a block for slot. It restarts the TTL of the
// location and marks it fresh.
func (i *Index) Put(pos cube.Pos, slot int) {
	k := Pack(pos)
	i.mu.Lock()
	defer i.mu.Unlock()
	i.slots.Put(k, int64(slot))
	i.deadline.Put(k, i.now().Add(i.ttl).UnixNano())
	i.fresh.Put(k, 1)
}

// Take collects the block generated at pos. It reports false unless pos is
// a known location that produced a block since it was last taken. The
// location is kept so the next flow regenerates it.
func (i *Index) Take(pos cube.Pos) (int, bool) {
	k := Pack(pos)
	i.mu.Lock()
	defer i.mu.Unlock()
	d, ok := i.deadline.Get(k)
	if !ok || i.now().UnixNano() >= d {
		return 0, false
	}
	if _, fresh := i.fresh.Get(k); !fresh {
		return 0, false
	}
	i.fresh.Del(k)
	i.deadline.Put(k, i.now().Add(i.ttl).UnixNano())
	slot, _ := i.slots.Get(k)
	return int(slot), true
}

// Slot returns the slot of the generator location at pos.
func (i *Index) Slot(pos cube.Pos) (int, bool) {
	k := Pack(pos)
	i.mu.Lock()
	defer i.mu.Unlock()
	d, ok := i.deadline.Get(k)
	if !ok || i.now().UnixNano() >= d {
		return 0, false
	}
	slot, _ := i.slots.Get(k)
	return int(slot), true
}

// Delete forgets the location at pos.
func (i *Index) Delete(pos cube.Pos) {
	k := Pack(pos)
	i.mu.Lock()
	defer i.mu.Unlock()
	i.del(k)
}

func (i *Index) del(k int64) {
	i.slots.Del(k)
	i.deadline.Del(k)
	i.fresh.Del(k)
}

// DeleteSlot forgets every location of slot, such as when its island is
// reset.
func (i *Index) DeleteSlot(slot int) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	var keys []int64
	for kv := range i.slots.Items() {
		if kv[1] == int64(slot) {
			keys = append(keys, kv[0])
		}
	}
	for _, k := range keys {
		i.del(k)
	}
	return len(keys)
}

// Sweep forgets every expired location and returns how many it removed.
func (i *Index) Sweep() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.now().UnixNano()
	var expired []int64
	for kv := range i.deadline.Items() {
		if now >= kv[1] {
			expired = append(expired, kv[0])
		}
	}
	for _, k := range expired {
		i.del(k)
	}
	return len(expired)
}

// Len returns the number of locations held, expired ones included.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.slots.Size()
}

// snapshot is the saved form of an Index. Keys, Slots and Deadlines are
// parallel; Fresh lists the keys not taken yet.
type snapshot struct {
	Keys      []int64 `nbt:"keys"`
	Slots     []int64 `nbt:"slots"`
	Deadlines []int64 `nbt:"deadlines"`
	Fresh     []int64 `nbt:"fresh"`
}

// Save writes every location that has not expired to w.
func (i *Index) Save(w io.Writer) error {
	i.mu.Lock()
	now := i.now().UnixNano()
	var snap snapshot
	for kv := range i.deadline.Items() {
		if now >= kv[1] {
			continue
		}
		slot, _ := i.slots.Get(kv[0])
		snap.Keys = append(snap.Keys, kv[0])
		snap.Slots = append(snap.Slots, slot)
		snap.Deadlines = append(snap.Deadlines, kv[1])
		if _, ok := i.fresh.Get(kv[0]); ok {
			snap.Fresh = append(snap.Fresh, kv[0])
		}
	}
	i.mu.Unlock()

	data, err := nbt.MarshalEncoding(snap, nbt.LittleEndian)
	if err != nil {
		return fmt.Errorf("encode generator locations: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// Load adds the locations saved by Save to the index, skipping those that
// expired in the meantime. An empty reader loads nothing. It returns the
// number of locations added.
func (i *Index) Load(r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return 0, err
	}
	var snap snapshot
	if err := nbt.UnmarshalEncoding(data, &snap, nbt.LittleEndian); err != nil {
		return 0, fmt.Errorf("decode generator locations: %w", err)
	}
	if len(snap.Slots) != len(snap.Keys) || len(snap.Deadlines) != len(snap.Keys) {
		return 0, fmt.Errorf("decode generator locations: %d keys, %d slots, %d deadlines", len(snap.Keys), len(snap.Slots), len(snap.Deadlines))
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	now, n := i.now().UnixNano(), 0
	for j, k := range snap.Keys {
		if now >= snap.Deadlines[j] {
			continue
		}
		i.slots.Put(k, snap.Slots[j])
		i.deadline.Put(k, snap.Deadlines[j])
		n++
	}
	for _, k := range snap.Fresh {
		if _, ok := i.slots.Get(k); ok {
			i.fresh.Put(k, 1)
		}
	}
	return n, nil
}
