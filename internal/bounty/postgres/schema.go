package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS bounties (
	id BYTEA PRIMARY KEY,
	creator BYTEA NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	token TEXT NOT NULL DEFAULT 'eth',
	amount NUMERIC NOT NULL,
	chain_id BIGINT NOT NULL,
	status TEXT NOT NULL DEFAULT 'ongoing',

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT bounty_id_len CHECK (octet_length(id) = 32),
	CONSTRAINT bounty_creator_len CHECK (octet_length(creator) = 20),
	CONSTRAINT bounty_title_len CHECK (char_length(title) BETWEEN 1 AND 255),
	CONSTRAINT bounty_description_len CHECK (char_length(description) BETWEEN 1 AND 1000),
	CONSTRAINT bounty_amount_nonneg CHECK (amount >= 0),
	CONSTRAINT bounty_status_valid CHECK (status IN ('ongoing', 'complete'))
);

CREATE INDEX IF NOT EXISTS bounties_created_at_idx ON bounties (created_at DESC);

CREATE TABLE IF NOT EXISTS submissions (
	id BIGSERIAL PRIMARY KEY,
	bounty_id BYTEA NOT NULL REFERENCES bounties (id),
	creator BYTEA NOT NULL,
	submission_description TEXT NOT NULL,
	is_complete BOOLEAN NOT NULL DEFAULT false,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT submissions_bounty_creator_uniq UNIQUE (bounty_id, creator),
	CONSTRAINT submission_creator_len CHECK (octet_length(creator) = 20),
	CONSTRAINT submission_description_len CHECK (char_length(submission_description) BETWEEN 1 AND 1000)
);
`
