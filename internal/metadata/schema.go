package metadata

import "context"

// ddl declares the seven relations described in SPEC_FULL.md §4.4,
// created here for ease of reference (ddl is actually applied by
// whatever migration tool owns the target database; tracd itself never
// issues DDL at startup beyond what EnsureSchema below does for local
// development and tests).
const ddl = `
CREATE TABLE IF NOT EXISTS tenant (
  tenant_id   BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
  tenant_code TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS object_id (
  tenant_id   BIGINT NOT NULL REFERENCES tenant(tenant_id),
  object_id   UUID NOT NULL,
  object_type SMALLINT NOT NULL,
  PRIMARY KEY (tenant_id, object_id)
);

CREATE TABLE IF NOT EXISTS object_definition (
  tenant_id          BIGINT NOT NULL,
  object_id          UUID NOT NULL,
  object_version     INT NOT NULL,
  object_timestamp   TIMESTAMPTZ NOT NULL,
  object_superseded  TIMESTAMPTZ,
  object_is_latest   BOOLEAN NOT NULL,
  definition         BYTEA NOT NULL,
  PRIMARY KEY (tenant_id, object_id, object_version),
  FOREIGN KEY (tenant_id, object_id) REFERENCES object_id (tenant_id, object_id)
);
CREATE INDEX IF NOT EXISTS object_definition_latest_idx
  ON object_definition (tenant_id, object_id) WHERE object_is_latest;

CREATE TABLE IF NOT EXISTS tag (
  tenant_id        BIGINT NOT NULL,
  object_id        UUID NOT NULL,
  object_version   INT NOT NULL,
  tag_version      INT NOT NULL,
  tag_timestamp    TIMESTAMPTZ NOT NULL,
  tag_is_latest    BOOLEAN NOT NULL,
  PRIMARY KEY (tenant_id, object_id, object_version, tag_version),
  FOREIGN KEY (tenant_id, object_id, object_version)
    REFERENCES object_definition (tenant_id, object_id, object_version)
);

CREATE TABLE IF NOT EXISTS tag_attr (
  tenant_id      BIGINT NOT NULL,
  object_id      UUID NOT NULL,
  object_version INT NOT NULL,
  tag_version    INT NOT NULL,
  attr_name      TEXT NOT NULL,
  attr_index     INT NOT NULL,
  attr_value     JSONB NOT NULL,
  PRIMARY KEY (tenant_id, object_id, object_version, tag_version, attr_name, attr_index),
  FOREIGN KEY (tenant_id, object_id, object_version, tag_version)
    REFERENCES tag (tenant_id, object_id, object_version, tag_version)
);

CREATE TABLE IF NOT EXISTS config_entry (
  tenant_id     BIGINT NOT NULL,
  config_class  TEXT NOT NULL,
  config_key    TEXT NOT NULL,
  config_version INT NOT NULL,
  config_is_latest BOOLEAN NOT NULL,
  definition    BYTEA NOT NULL,
  PRIMARY KEY (tenant_id, config_class, config_key, config_version)
);

-- key_mapping is a real table rather than a session-scoped temp table
-- (see SPEC_FULL.md §4.4.1): pgxpool hands out transactions on whichever
-- physical connection is free, so a temp table's session lifetime would
-- not reliably span a single logical transaction. mapping_stage scopes
-- rows to one resolution batch and is cleaned up at the end of the
-- transaction that created them.
CREATE TABLE IF NOT EXISTS key_mapping (
  mapping_stage     BIGINT NOT NULL,
  ordering          INT NOT NULL,
  object_id         UUID NOT NULL,

  version_criterion SMALLINT NOT NULL,
  object_version    INT,
  object_as_of      TIMESTAMPTZ,

  tag_criterion     SMALLINT NOT NULL,
  tag_version       INT,
  tag_as_of         TIMESTAMPTZ,

  found_object_type SMALLINT,
  matched_version   INT,
  matched_tag       INT,

  PRIMARY KEY (mapping_stage, ordering)
);
`

// EnsureSchema applies ddl idempotently. Used by local development and
// the integration test harness; production deployments own migrations
// separately.
func EnsureSchema(ctx context.Context, exec Executor) error {
	_, err := exec.Exec(ctx, ddl)
	return err
}
