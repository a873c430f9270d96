// Package sqlstore serves the registry data straight from the archival database.
// Postgres is reached through pgx, SQLite through the pure Go driver.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/mohammed-shakir/burial-registry/internal/core/model"
	"github.com/mohammed-shakir/burial-registry/internal/core/observability"
	"github.com/mohammed-shakir/burial-registry/internal/dataservice"
)

var _ dataservice.Service = (*Store)(nil)

// Dialect selects the driver and placeholder style.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

const defaultTopN = 10

func (d Dialect) driver() (string, error) {
	switch d {
	case Postgres:
		return "pgx", nil
	case SQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unknown sql dialect %q", string(d))
	}
}

// rebind rewrites ? placeholders to $n for Postgres.
func (d Dialect) rebind(q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	topN    int
	logger  *slog.Logger
}

// Open connects and pings the database. topN bounds the name lists; zero means 10.
func Open(ctx context.Context, dialect Dialect, dsn string, topN int, logger *slog.Logger) (*Store, error) {
	driver, err := dialect.driver()
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, fmt.Errorf("open %s: empty dsn", dialect)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// one writer; avoids SQLITE_BUSY on the shared file
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	if topN <= 0 {
		topN = defaultTopN
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, dialect: dialect, topN: topN, logger: logger}, nil
}

// DB exposes the underlying handle for seeding and tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", s.dialect, err)
	}
	return nil
}

func (s *Store) observe(call string, start time.Time, err error) {
	observability.ObserveUpstream("sql", call, err, time.Since(start).Seconds())
}

func (s *Store) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(q), args...)
}

func formatID(n int64) model.ID { return model.ID(strconv.FormatInt(n, 10)) }

func (s *Store) FetchRegionHierarchy(ctx context.Context) (_ []model.RegionRecord, err error) {
	start := time.Now()
	defer func() { s.observe("region_hierarchy", start, err) }()
	rows, err := s.query(ctx, qHierarchy)
	if err != nil {
		return nil, fmt.Errorf("select hierarchy: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.RegionRecord{}
	for rows.Next() {
		var (
			r       model.RegionRecord
			g, o, k int64
		)
		if err := rows.Scan(&g, &r.CemeteryName, &o, &r.MunicipalityName, &k, &r.DistrictName); err != nil {
			return nil, fmt.Errorf("scan hierarchy: %w", err)
		}
		r.CemeteryID, r.MunicipalityID, r.DistrictID = formatID(g), formatID(o), formatID(k)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hierarchy: %w", err)
	}
	return out, nil
}

func (s *Store) FetchGraveyardsForDistrict(ctx context.Context, districtID model.ID) (_ []model.Graveyard, err error) {
	start := time.Now()
	defer func() { s.observe("graveyards_per_district", start, err) }()
	id, ok := districtID.Int64()
	if !ok {
		return []model.Graveyard{}, nil
	}
	rows, err := s.query(ctx, qGraveyards, id)
	if err != nil {
		return nil, fmt.Errorf("select graveyards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.Graveyard{}
	for rows.Next() {
		var (
			gid  int64
			name string
		)
		if err := rows.Scan(&gid, &name); err != nil {
			return nil, fmt.Errorf("scan graveyard: %w", err)
		}
		out = append(out, model.Graveyard{ID: formatID(gid), Name: name})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate graveyards: %w", err)
	}
	return out, nil
}

func (s *Store) FetchTopNames(ctx context.Context, districtID model.ID) (_ []model.NameStat, err error) {
	start := time.Now()
	defer func() { s.observe("top_names", start, err) }()
	return s.topStats(ctx, qTopNames, districtID)
}

func (s *Store) FetchTopLastnames(ctx context.Context, districtID model.ID) (_ []model.NameStat, err error) {
	start := time.Now()
	defer func() { s.observe("top_lastnames", start, err) }()
	return s.topStats(ctx, qTopLastnames, districtID)
}

// topStats returns the most frequent values with their share of all persons
// buried in the district, in percent rounded to two decimals.
func (s *Store) topStats(ctx context.Context, q string, districtID model.ID) ([]model.NameStat, error) {
	id, ok := districtID.Int64()
	if !ok {
		return []model.NameStat{}, nil
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, s.dialect.rebind(qDistrictPersons), id).Scan(&total); err != nil {
		return nil, fmt.Errorf("count district persons: %w", err)
	}
	if total == 0 {
		return []model.NameStat{}, nil
	}

	rows, err := s.query(ctx, q, id, s.topN)
	if err != nil {
		return nil, fmt.Errorf("select top values: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.NameStat{}
	for rows.Next() {
		var st model.NameStat
		if err := rows.Scan(&st.Name, &st.Total); err != nil {
			return nil, fmt.Errorf("scan top value: %w", err)
		}
		st.Percent = math.Round(float64(st.Total)*10000/float64(total)) / 100
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top values: %w", err)
	}
	return out, nil
}

func (s *Store) FetchPersonsPerDistrict(ctx context.Context) (_ []model.DistrictPersons, err error) {
	start := time.Now()
	defer func() { s.observe("persons_per_district", start, err) }()
	rows, err := s.query(ctx, qPersonsPerDistrict)
	if err != nil {
		return nil, fmt.Errorf("select persons per district: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.DistrictPersons{}
	for rows.Next() {
		var (
			p  model.DistrictPersons
			id int64
		)
		if err := rows.Scan(&id, &p.DistrictName, &p.Total); err != nil {
			return nil, fmt.Errorf("scan persons per district: %w", err)
		}
		p.DistrictID = formatID(id)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons per district: %w", err)
	}
	return out, nil
}

func (s *Store) FetchGenderDistribution(ctx context.Context) (_ []model.GenderStat, err error) {
	start := time.Now()
	defer func() { s.observe("gender_distribution", start, err) }()
	rows, err := s.query(ctx, qGender)
	if err != nil {
		return nil, fmt.Errorf("select gender distribution: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.GenderStat{}
	for rows.Next() {
		var g model.GenderStat
		if err := rows.Scan(&g.Gender, &g.Total); err != nil {
			return nil, fmt.Errorf("scan gender: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gender: %w", err)
	}
	return out, nil
}
