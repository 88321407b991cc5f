package postgres

import (
	"fmt"

	"github.com/businessperformancetuning/segutil/database"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type postgres struct {
	db   *sqlx.DB
	name string
}

var _ database.Database = (*postgres)(nil)

func (p *postgres) Open() error {
	log.Tracef("postgres.Open")

	if err := p.db.Ping(); err != nil {
		return err
	}

	// Verify database version
	var version int
	if err := p.db.Get(&version, database.SelectVersion); err != nil {
		log.Infof("Creating database schema version %v",
			database.Version)
		tx, err := p.db.Beginx()
		if err != nil {
			return err
		}
		for k, v := range database.SchemaV1 {
			if _, err := tx.Exec(v); err != nil {
				tx.Rollback()
				return fmt.Errorf("%v: %v", k, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		err = p.db.Get(&version, database.SelectVersion)
		if err != nil {
			return err
		}
	}

	if version != database.Version {
		return fmt.Errorf("unsupported database version %v, want %v",
			version, database.Version)
	}

	return nil
}

func (p *postgres) Close() error {
	log.Tracef("postgres.Close")

	return p.db.Close()
}

// Create creates the database.  The URI must point to an existing
// administrative database such as postgres.
func (p *postgres) Create() error {
	log.Tracef("postgres.Create")

	if err := p.db.Ping(); err != nil {
		return err
	}

	log.Infof("Creating database: %v", p.name)
	if _, err := p.db.Exec(fmt.Sprintf(database.CreateFormat, p.name)); err != nil {
		return err
	}

	return nil
}

// SegmentsInsert inserts all segments of a round in a single transaction.
func (p *postgres) SegmentsInsert(r *database.Round) error {
	log.Tracef("postgres.SegmentsInsert %v", len(r.Segments))

	tx, err := p.db.Beginx()
	if err != nil {
		return err
	}
	for _, row := range r.Rows() {
		row := row
		if _, err := tx.NamedExec(database.InsertSegment, &row); err != nil {
			tx.Rollback()
			return fmt.Errorf("segment %v: %v", row.Number, err)
		}
	}
	return tx.Commit()
}

func New(name, uri string) (*postgres, error) {
	log.Tracef("postgres.New")

	db, err := sqlx.Open("postgres", uri)
	if err != nil {
		return nil, err
	}
	return &postgres{db: db, name: name}, nil
}
