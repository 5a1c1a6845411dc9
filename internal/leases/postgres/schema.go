package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS leases (
	name TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT leases_name_nonempty CHECK (length(name) > 0),
	CONSTRAINT leases_owner_nonempty CHECK (length(owner) > 0)
);
`
