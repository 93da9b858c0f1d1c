package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/fluxdag/fluxdag/internal/ipld"
	"github.com/fluxdag/fluxdag/internal/model"
)

// schema is applied by Postgres.Migrate. Receipts are keyed by their own
// CID and indexed by instruction CID so both lookup directions are cheap;
// workflows are keyed by workflow CID and carry their serialized progress
// capsule rather than a column per field, since WorkflowInfo's shape is
// still settling.
const schema = `
CREATE TABLE IF NOT EXISTS receipts (
	receipt_cid     TEXT PRIMARY KEY,
	instruction_cid TEXT NOT NULL,
	payload         BYTEA NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS receipts_instruction_cid_idx ON receipts (instruction_cid);

CREATE TABLE IF NOT EXISTS workflows (
	workflow_cid TEXT PRIMARY KEY,
	payload      BYTEA NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Postgres is a ReceiptStore backed by a Postgres database, reached via
// lib/pq. Receipts and workflow progress are stored as their canonical
// DAG-CBOR capsule bytes, so the schema doesn't need to track the IPLD
// data model's evolution column by column.
type Postgres struct {
	db     *sql.DB
	logger *log.Logger
}

// Open connects to dsn and verifies the connection with a ping. Callers
// own the returned *Postgres and should call Close when done.
func Open(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return &Postgres{
		db:     db,
		logger: log.New(log.Writer(), "[STORE] ", log.LstdFlags),
	}, nil
}

// Migrate creates the receipts/workflows tables if they don't exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Put(ctx context.Context, r model.Receipt) error {
	rc, err := r.CID()
	if err != nil {
		return fmt.Errorf("store: receipt cid: %w", err)
	}
	capsule, err := r.Capsule()
	if err != nil {
		return fmt.Errorf("store: receipt capsule: %w", err)
	}
	payload, err := ipld.EncodeCBOR(capsule)
	if err != nil {
		return fmt.Errorf("store: encode receipt: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO receipts (receipt_cid, instruction_cid, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (receipt_cid) DO NOTHING
	`, rc.String(), r.Instruction.String(), payload)
	if err != nil {
		return fmt.Errorf("store: put receipt: %w", err)
	}
	return nil
}

func (p *Postgres) GetByInstruction(ctx context.Context, instruction ipld.CID) (model.Receipt, bool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT payload FROM receipts WHERE instruction_cid = $1
		ORDER BY created_at DESC LIMIT 1
	`, instruction.String())
	return p.scanReceipt(row)
}

func (p *Postgres) GetByReceipt(ctx context.Context, receipt ipld.CID) (model.Receipt, bool, error) {
	row := p.db.QueryRowContext(ctx, `SELECT payload FROM receipts WHERE receipt_cid = $1`, receipt.String())
	return p.scanReceipt(row)
}

func (p *Postgres) scanReceipt(row *sql.Row) (model.Receipt, bool, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return model.Receipt{}, false, nil
		}
		return model.Receipt{}, false, fmt.Errorf("store: scan receipt: %w", err)
	}
	v, err := ipld.DecodeCBOR(payload)
	if err != nil {
		return model.Receipt{}, false, fmt.Errorf("store: decode receipt: %w", err)
	}
	r, err := model.ReceiptFromCapsule(v)
	if err != nil {
		return model.Receipt{}, false, fmt.Errorf("store: receipt from capsule: %w", err)
	}
	return r, true, nil
}

func (p *Postgres) PutWorkflowInfo(ctx context.Context, wi *model.WorkflowInfo) error {
	capsule, err := wi.Capsule()
	if err != nil {
		return fmt.Errorf("store: workflow info capsule: %w", err)
	}
	payload, err := ipld.EncodeCBOR(capsule)
	if err != nil {
		return fmt.Errorf("store: encode workflow info: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO workflows (workflow_cid, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (workflow_cid) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
	`, wi.Workflow.String(), payload)
	if err != nil {
		return fmt.Errorf("store: put workflow info: %w", err)
	}
	return nil
}

func (p *Postgres) GetWorkflowInfo(ctx context.Context, workflow ipld.CID) (*model.WorkflowInfo, bool, error) {
	row := p.db.QueryRowContext(ctx, `SELECT payload FROM workflows WHERE workflow_cid = $1`, workflow.String())
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: scan workflow info: %w", err)
	}
	v, err := ipld.DecodeCBOR(payload)
	if err != nil {
		return nil, false, fmt.Errorf("store: decode workflow info: %w", err)
	}
	wi, err := model.WorkflowInfoFromCapsule(v)
	if err != nil {
		return nil, false, fmt.Errorf("store: workflow info from capsule: %w", err)
	}
	return wi, true, nil
}
