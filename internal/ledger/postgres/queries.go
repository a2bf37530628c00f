package postgres

// The submissions table stores one row per identity. The stages column
// is a jsonb object keyed by stage name; upserts merge one stage key at
// a time atomically, so no read-modify-write cycle crosses statements.
const querySchema = `
CREATE TABLE IF NOT EXISTS submissions (
	seq             BIGSERIAL   NOT NULL,
	identity        UUID        PRIMARY KEY,
	created_at      TIMESTAMPTZ NOT NULL,
	last_updated_at TIMESTAMPTZ,
	stages          JSONB       NOT NULL DEFAULT '{}'::jsonb
);
`

const queryUpsert = `
INSERT INTO submissions (identity, created_at, stages)
VALUES ($1, $2, jsonb_build_object($3::text, $4::jsonb))
ON CONFLICT (identity) DO UPDATE SET
	stages          = submissions.stages || jsonb_build_object($3::text, $4::jsonb),
	last_updated_at = $2
RETURNING identity, created_at, last_updated_at, stages
`

const queryLoadAll = `
SELECT identity, created_at, last_updated_at, stages
FROM submissions
ORDER BY seq
`

const queryFindByIdentity = `
SELECT identity, created_at, last_updated_at, stages
FROM submissions
WHERE identity = $1
`
