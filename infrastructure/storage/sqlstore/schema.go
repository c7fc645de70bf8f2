package sqlstore

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS grade_items (
  id          TEXT PRIMARY KEY,
  timing      TEXT NOT NULL,
  rater_type  TEXT NOT NULL,
  subject     TEXT NOT NULL,
  rater       TEXT NOT NULL,
  UNIQUE (timing, rater_type, subject, rater)
);
CREATE INDEX IF NOT EXISTS idx_grade_items_subject ON grade_items(subject, timing);

CREATE TABLE IF NOT EXISTS grades (
  item_id     TEXT PRIMARY KEY REFERENCES grade_items(id) ON DELETE CASCADE,
  rater       TEXT NOT NULL,
  score       REAL,
  comment     TEXT NOT NULL DEFAULT '',
  updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS aggregated_grades (
  student             TEXT NOT NULL,
  timing              TEXT NOT NULL,
  composites          TEXT NOT NULL,
  weighted_total      REAL,
  fairness_bonus      REAL NOT NULL DEFAULT 0,
  self_fairness_bonus REAL NOT NULL DEFAULT 0,
  final_score         REAL,
  updated_at          INTEGER NOT NULL,
  PRIMARY KEY (student, timing)
);

CREATE TABLE IF NOT EXISTS peer_members (
  scope_id    TEXT NOT NULL,
  participant TEXT NOT NULL,
  PRIMARY KEY (scope_id, participant)
);

CREATE TABLE IF NOT EXISTS peer_edges (
  scope_id  TEXT NOT NULL,
  reviewer  TEXT NOT NULL,
  reviewee  TEXT NOT NULL,
  PRIMARY KEY (scope_id, reviewer, reviewee)
);

CREATE TABLE IF NOT EXISTS rubric_fillings (
  attempt_ref  TEXT NOT NULL,
  criterion_id TEXT NOT NULL,
  level_id     TEXT NOT NULL,
  PRIMARY KEY (attempt_ref, criterion_id)
);

CREATE TABLE IF NOT EXISTS gradebook_ledger (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  student    TEXT NOT NULL,
  raw_score  REAL NOT NULL,
  pushed_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS completions (
  student       TEXT PRIMARY KEY,
  completed_at  INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS grade_items (
  id          TEXT PRIMARY KEY,
  timing      TEXT NOT NULL,
  rater_type  TEXT NOT NULL,
  subject     TEXT NOT NULL,
  rater       TEXT NOT NULL,
  UNIQUE (timing, rater_type, subject, rater)
);
CREATE INDEX IF NOT EXISTS idx_grade_items_subject ON grade_items(subject, timing);

CREATE TABLE IF NOT EXISTS grades (
  item_id     TEXT PRIMARY KEY REFERENCES grade_items(id) ON DELETE CASCADE,
  rater       TEXT NOT NULL,
  score       DOUBLE PRECISION,
  comment     TEXT NOT NULL DEFAULT '',
  updated_at  BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS aggregated_grades (
  student             TEXT NOT NULL,
  timing              TEXT NOT NULL,
  composites          TEXT NOT NULL,
  weighted_total      DOUBLE PRECISION,
  fairness_bonus      DOUBLE PRECISION NOT NULL DEFAULT 0,
  self_fairness_bonus DOUBLE PRECISION NOT NULL DEFAULT 0,
  final_score         DOUBLE PRECISION,
  updated_at          BIGINT NOT NULL,
  PRIMARY KEY (student, timing)
);

CREATE TABLE IF NOT EXISTS peer_members (
  scope_id    TEXT NOT NULL,
  participant TEXT NOT NULL,
  PRIMARY KEY (scope_id, participant)
);

CREATE TABLE IF NOT EXISTS peer_edges (
  scope_id  TEXT NOT NULL,
  reviewer  TEXT NOT NULL,
  reviewee  TEXT NOT NULL,
  PRIMARY KEY (scope_id, reviewer, reviewee)
);

CREATE TABLE IF NOT EXISTS rubric_fillings (
  attempt_ref  TEXT NOT NULL,
  criterion_id TEXT NOT NULL,
  level_id     TEXT NOT NULL,
  PRIMARY KEY (attempt_ref, criterion_id)
);

CREATE TABLE IF NOT EXISTS gradebook_ledger (
  id         BIGSERIAL PRIMARY KEY,
  student    TEXT NOT NULL,
  raw_score  DOUBLE PRECISION NOT NULL,
  pushed_at  BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS completions (
  student       TEXT PRIMARY KEY,
  completed_at  BIGINT NOT NULL
);
`
