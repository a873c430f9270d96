package sqlstore

import (
	"context"
	"fmt"
)

// schema is valid for both dialects.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS okrug (
		id   BIGINT PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS opstina (
		id       BIGINT PRIMARY KEY,
		name     TEXT NOT NULL,
		okrug_id BIGINT NOT NULL REFERENCES okrug(id)
	)`,
	`CREATE TABLE IF NOT EXISTS groblje (
		id         BIGINT PRIMARY KEY,
		name       TEXT NOT NULL,
		opstina_id BIGINT NOT NULL REFERENCES opstina(id)
	)`,
	`CREATE TABLE IF NOT EXISTS osoba (
		id         BIGINT PRIMARY KEY,
		ime        TEXT NOT NULL DEFAULT '',
		prezime    TEXT NOT NULL DEFAULT '',
		pol        TEXT NOT NULL DEFAULT '',
		groblje_id BIGINT NOT NULL REFERENCES groblje(id)
	)`,
	`CREATE INDEX IF NOT EXISTS opstina_okrug_idx ON opstina (okrug_id)`,
	`CREATE INDEX IF NOT EXISTS groblje_opstina_idx ON groblje (opstina_id)`,
	`CREATE INDEX IF NOT EXISTS osoba_groblje_idx ON osoba (groblje_id)`,
}

const (
	qHierarchy = `
SELECT g.id, g.name, o.id, o.name, k.id, k.name
FROM groblje g
JOIN opstina o ON o.id = g.opstina_id
JOIN okrug k ON k.id = o.okrug_id
ORDER BY k.id, o.id, g.id`

	qGraveyards = `
SELECT g.id, g.name
FROM groblje g
JOIN opstina o ON o.id = g.opstina_id
WHERE o.okrug_id = ?
ORDER BY g.name, g.id`

	qDistrictPersons = `
SELECT COUNT(*)
FROM osoba p
JOIN groblje g ON g.id = p.groblje_id
JOIN opstina o ON o.id = g.opstina_id
WHERE o.okrug_id = ?`

	qTopNames = `
SELECT p.ime, COUNT(*) AS total
FROM osoba p
JOIN groblje g ON g.id = p.groblje_id
JOIN opstina o ON o.id = g.opstina_id
WHERE o.okrug_id = ? AND p.ime <> ''
GROUP BY p.ime
ORDER BY total DESC, p.ime
LIMIT ?`

	qTopLastnames = `
SELECT p.prezime, COUNT(*) AS total
FROM osoba p
JOIN groblje g ON g.id = p.groblje_id
JOIN opstina o ON o.id = g.opstina_id
WHERE o.okrug_id = ? AND p.prezime <> ''
GROUP BY p.prezime
ORDER BY total DESC, p.prezime
LIMIT ?`

	qPersonsPerDistrict = `
SELECT k.id, k.name, COUNT(p.id)
FROM okrug k
LEFT JOIN opstina o ON o.okrug_id = k.id
LEFT JOIN groblje g ON g.opstina_id = o.id
LEFT JOIN osoba p ON p.groblje_id = g.id
GROUP BY k.id, k.name
ORDER BY k.id`

	qGender = `
SELECT pol, COUNT(*)
FROM osoba
GROUP BY pol
ORDER BY pol`
)

// Migrate creates the archival tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect, err)
		}
	}
	s.logger.InfoContext(ctx, "schema ready", "dialect", string(s.dialect))
	return nil
}
