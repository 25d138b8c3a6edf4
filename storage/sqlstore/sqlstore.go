// Package sqlstore stores islands and challenge progress in SQLite or
// PostgreSQL through database/sql. The schema is managed by embedded goose
// migrations.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/dm-vev/hellblock/challenge"
	"github.com/dm-vev/hellblock/island"
	"github.com/dm-vev/hellblock/storage/sqlstore/migrations"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Dialect is the SQL flavour a Store talks.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Store is a database/sql backed island and challenge store.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLite opens or creates the database file hellblock.sqlite in dir and
// applies migrations.
func OpenSQLite(ctx context.Context, dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("sqlite folder is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite folder: %w", err)
	}
	dsn := filepath.Join(filepath.Clean(dir), "hellblock.sqlite") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return open(ctx, db, SQLite)
}

// OpenPostgres connects to the PostgreSQL database at dsn and applies
// migrations.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	return open(ctx, db, Postgres)
}

func open(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect, err)
	}
	if err := migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, dialect: dialect}, nil
}

func migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	gd := goose.DialectSQLite3
	if dialect == Postgres {
		gd = goose.DialectPostgres
	}
	p, err := goose.NewProvider(gd, db, fs.FS(migrations.FS))
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const islandColumns = `owner, slot, theme, home, members, upgrades, hoppers, portal, link, locked, created_at`

type portalJSON struct {
	Corner [3]int `json:"corner"`
	Axis   int    `json:"axis"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIsland(row scanner) (*island.Island, error) {
	var (
		owner, theme, home, members, upgrades, hoppers, link string
		portal                                               sql.NullString
		slot, locked                                         int
		created                                              int64
	)
	if err := row.Scan(&owner, &slot, &theme, &home, &members, &upgrades, &hoppers, &portal, &link, &locked, &created); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(owner)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	isl := &island.Island{
		Owner:    id,
		Slot:     slot,
		Theme:    island.Theme(theme),
		Upgrades: make(map[island.Upgrade]int),
		Locked:   locked != 0,
		Created:  time.UnixMilli(created),
	}
	var h [3]float64
	if err := json.Unmarshal([]byte(home), &h); err != nil {
		return nil, fmt.Errorf("home: %w", err)
	}
	isl.Home = mgl64.Vec3(h)
	if err := json.Unmarshal([]byte(members), &isl.Members); err != nil {
		return nil, fmt.Errorf("members: %w", err)
	}
	var ups map[string]int
	if err := json.Unmarshal([]byte(upgrades), &ups); err != nil {
		return nil, fmt.Errorf("upgrades: %w", err)
	}
	for name, tier := range ups {
		u, err := island.ParseUpgrade(name)
		if err != nil {
			return nil, err
		}
		isl.Upgrades[u] = tier
	}
	var hs [][3]int
	if err := json.Unmarshal([]byte(hoppers), &hs); err != nil {
		return nil, fmt.Errorf("hoppers: %w", err)
	}
	for _, p := range hs {
		isl.Hoppers = append(isl.Hoppers, cube.Pos(p))
	}
	if portal.Valid {
		var p portalJSON
		if err := json.Unmarshal([]byte(portal.String), &p); err != nil {
			return nil, fmt.Errorf("portal: %w", err)
		}
		isl.Portal = &island.Portal{Corner: cube.Pos(p.Corner), Axis: cube.Axis(p.Axis), Width: p.Width, Height: p.Height}
	}
	if link != "" {
		if isl.Link, err = uuid.Parse(link); err != nil {
			return nil, fmt.Errorf("link: %w", err)
		}
	}
	return isl, nil
}

// Islands returns every stored island.
func (s *Store) Islands(ctx context.Context) ([]*island.Island, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+islandColumns+` FROM islands ORDER BY slot`)
	if err != nil {
		return nil, fmt.Errorf("query islands: %w", err)
	}
	defer rows.Close()

	var out []*island.Island
	for rows.Next() {
		isl, err := scanIsland(rows)
		if err != nil {
			return nil, fmt.Errorf("scan island: %w", err)
		}
		out = append(out, isl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate islands: %w", err)
	}
	return out, nil
}

// Island returns the island owned by owner or island.ErrNoIsland.
func (s *Store) Island(ctx context.Context, owner uuid.UUID) (*island.Island, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+islandColumns+` FROM islands WHERE owner = ?`), owner.String())
	isl, err := scanIsland(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, island.ErrNoIsland
	} else if err != nil {
		return nil, fmt.Errorf("get island: %w", err)
	}
	return isl, nil
}

// SaveIsland inserts or replaces isl.
func (s *Store) SaveIsland(ctx context.Context, isl *island.Island) error {
	members := make([]uuid.UUID, 0, len(isl.Members))
	members = append(members, isl.Members...)
	ups := make(map[string]int, len(isl.Upgrades))
	for u, t := range isl.Upgrades {
		ups[u.String()] = t
	}
	hs := make([][3]int, 0, len(isl.Hoppers))
	for _, h := range isl.Hoppers {
		hs = append(hs, [3]int(h))
	}
	var portal sql.NullString
	if p := isl.Portal; p != nil {
		data, err := json.Marshal(portalJSON{Corner: [3]int(p.Corner), Axis: int(p.Axis), Width: p.Width, Height: p.Height})
		if err != nil {
			return fmt.Errorf("encode portal: %w", err)
		}
		portal = sql.NullString{String: string(data), Valid: true}
	}
	link := ""
	if isl.Link != uuid.Nil {
		link = isl.Link.String()
	}
	locked := 0
	if isl.Locked {
		locked = 1
	}
	home, err := json.Marshal([3]float64(isl.Home))
	if err != nil {
		return fmt.Errorf("encode home: %w", err)
	}
	memberData, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	upData, err := json.Marshal(ups)
	if err != nil {
		return fmt.Errorf("encode upgrades: %w", err)
	}
	hopperData, err := json.Marshal(hs)
	if err != nil {
		return fmt.Errorf("encode hoppers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO islands (`+islandColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner) DO UPDATE SET
		  slot = excluded.slot,
		  theme = excluded.theme,
		  home = excluded.home,
		  members = excluded.members,
		  upgrades = excluded.upgrades,
		  hoppers = excluded.hoppers,
		  portal = excluded.portal,
		  link = excluded.link,
		  locked = excluded.locked`),
		isl.Owner.String(), isl.Slot, string(isl.Theme), string(home), string(memberData),
		string(upData), string(hopperData), portal, link, locked, isl.Created.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save island: %w", err)
	}
	return nil
}

// DeleteIsland removes the island of owner.
func (s *Store) DeleteIsland(ctx context.Context, owner uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM islands WHERE owner = ?`), owner.String()); err != nil {
		return fmt.Errorf("delete island: %w", err)
	}
	return nil
}

// Progress returns the challenge progress of player.
func (s *Store) Progress(ctx context.Context, player uuid.UUID) (map[string]challenge.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT challenge, count, completions FROM challenge_progress WHERE player = ?`), player.String())
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()

	out := make(map[string]challenge.Record)
	for rows.Next() {
		var (
			id  string
			rec challenge.Record
		)
		if err := rows.Scan(&id, &rec.Count, &rec.Completions); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		out[id] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress: %w", err)
	}
	return out, nil
}

// SaveProgress replaces the challenge progress of player in one transaction.
func (s *Store) SaveProgress(ctx context.Context, player uuid.UUID, records map[string]challenge.Record) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM challenge_progress WHERE player = ?`), player.String()); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}
	insert := s.rebind(`INSERT INTO challenge_progress (player, challenge, count, completions) VALUES (?, ?, ?, ?)`)
	for id, rec := range records {
		if _, err = tx.ExecContext(ctx, insert, player.String(), id, rec.Count, rec.Completions); err != nil {
			return fmt.Errorf("insert progress: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit progress: %w", err)
	}
	return nil
}
