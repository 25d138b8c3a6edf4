package leveldb

import (
	"fmt"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/dm-vev/hellblock/island"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// islandRecord is the NBT form of an island.
type islandRecord struct {
	Owner     string          `nbt:"Owner"`
	Members   []string        `nbt:"Members"`
	Slot      int32           `nbt:"Slot"`
	Theme     string          `nbt:"Theme"`
	HomeX     float64         `nbt:"HomeX"`
	HomeY     float64         `nbt:"HomeY"`
	HomeZ     float64         `nbt:"HomeZ"`
	Upgrades  []upgradeRecord `nbt:"Upgrades"`
	Hoppers   []int32         `nbt:"Hoppers"`
	HasPortal uint8           `nbt:"HasPortal"`
	Portal    portalRecord    `nbt:"Portal"`
	Link      string          `nbt:"Link"`
	Locked    uint8           `nbt:"Locked"`
	Created   int64           `nbt:"Created"`
}

type upgradeRecord struct {
	Name string `nbt:"Name"`
	Tier int32  `nbt:"Tier"`
}

type portalRecord struct {
	X      int32 `nbt:"X"`
	Y      int32 `nbt:"Y"`
	Z      int32 `nbt:"Z"`
	Axis   uint8 `nbt:"Axis"`
	Width  int32 `nbt:"Width"`
	Height int32 `nbt:"Height"`
}

// progressRecord is the NBT form of the progress on one challenge. The
// challenge ID is stored alongside the counts since keys only hold its hash.
type progressRecord struct {
	Challenge   string `nbt:"Challenge"`
	Count       int32  `nbt:"Count"`
	Completions int32  `nbt:"Completions"`
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func toRecord(isl *island.Island) islandRecord {
	r := islandRecord{
		Owner:    isl.Owner.String(),
		Members:  make([]string, 0, len(isl.Members)),
		Slot:     int32(isl.Slot),
		Theme:    string(isl.Theme),
		HomeX:    isl.Home[0],
		HomeY:    isl.Home[1],
		HomeZ:    isl.Home[2],
		Upgrades: make([]upgradeRecord, 0, len(isl.Upgrades)),
		Hoppers:  make([]int32, 0, len(isl.Hoppers)*3),
		Locked:   boolByte(isl.Locked),
		Created:  isl.Created.UnixMilli(),
	}
	for _, m := range isl.Members {
		r.Members = append(r.Members, m.String())
	}
	for _, u := range island.Upgrades() {
		if t := isl.Upgrades[u]; t > 0 {
			r.Upgrades = append(r.Upgrades, upgradeRecord{Name: u.String(), Tier: int32(t)})
		}
	}
	for _, h := range isl.Hoppers {
		r.Hoppers = append(r.Hoppers, int32(h[0]), int32(h[1]), int32(h[2]))
	}
	if p := isl.Portal; p != nil {
		r.HasPortal = 1
		r.Portal = portalRecord{
			X: int32(p.Corner[0]), Y: int32(p.Corner[1]), Z: int32(p.Corner[2]),
			Axis: uint8(p.Axis), Width: int32(p.Width), Height: int32(p.Height),
		}
	}
	if isl.Link != uuid.Nil {
		r.Link = isl.Link.String()
	}
	return r
}

func fromRecord(r islandRecord) (*island.Island, error) {
	owner, err := uuid.Parse(r.Owner)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	isl := &island.Island{
		Owner:    owner,
		Slot:     int(r.Slot),
		Theme:    island.Theme(r.Theme),
		Home:     mgl64.Vec3{r.HomeX, r.HomeY, r.HomeZ},
		Upgrades: make(map[island.Upgrade]int, len(r.Upgrades)),
		Locked:   r.Locked != 0,
		Created:  time.UnixMilli(r.Created),
	}
	for _, m := range r.Members {
		id, err := uuid.Parse(m)
		if err != nil {
			return nil, fmt.Errorf("member: %w", err)
		}
		isl.Members = append(isl.Members, id)
	}
	for _, u := range r.Upgrades {
		up, err := island.ParseUpgrade(u.Name)
		if err != nil {
			return nil, err
		}
		isl.Upgrades[up] = int(u.Tier)
	}
	if len(r.Hoppers)%3 != 0 {
		return nil, fmt.Errorf("hoppers: %d coordinates is not a multiple of 3", len(r.Hoppers))
	}
	for i := 0; i < len(r.Hoppers); i += 3 {
		isl.Hoppers = append(isl.Hoppers, cube.Pos{int(r.Hoppers[i]), int(r.Hoppers[i+1]), int(r.Hoppers[i+2])})
	}
	if r.HasPortal != 0 {
		p := r.Portal
		isl.Portal = &island.Portal{
			Corner: cube.Pos{int(p.X), int(p.Y), int(p.Z)},
			Axis:   cube.Axis(p.Axis),
			Width:  int(p.Width),
			Height: int(p.Height),
		}
	}
	if r.Link != "" {
		if isl.Link, err = uuid.Parse(r.Link); err != nil {
			return nil, fmt.Errorf("link: %w", err)
		}
	}
	return isl, nil
}
