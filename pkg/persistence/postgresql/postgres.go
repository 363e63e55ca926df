// Package postgresql provides the PostgreSQL persistence implementation
// for the workflow runtime.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/loopkit/loom/pkg/persistence"
	"github.com/loopkit/loom/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	definitions *DefinitionRepository
	instances   *InstanceRepository
	tasks       *TaskRepository
	events      *EventRepository
	outbox      *OutboxRepository
	timers      *TimerRepository
}

// NewPersistence connects, runs migrations and wires the repositories.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:          database,
		logger:      logger,
		definitions: &DefinitionRepository{db: database},
		instances:   &InstanceRepository{db: database},
		tasks:       &TaskRepository{db: database},
		events:      &EventRepository{db: database},
		outbox:      &OutboxRepository{db: database},
		timers:      &TimerRepository{db: database},
	}, nil
}

func (p *Persistence) Definitions() persistence.DefinitionRepository { return p.definitions }
func (p *Persistence) Instances() persistence.InstanceRepository     { return p.instances }
func (p *Persistence) Tasks() persistence.TaskRepository             { return p.tasks }
func (p *Persistence) Events() persistence.EventRepository           { return p.events }
func (p *Persistence) Outbox() persistence.OutboxRepository          { return p.outbox }
func (p *Persistence) Timers() persistence.TimerRepository           { return p.timers }

// Begin opens a unit of work backed by a database transaction at commit
// time: staging stays in memory until Commit.
func (p *Persistence) Begin(ctx context.Context) (persistence.UnitOfWork, error) {
	return &unitOfWork{db: p.db}, nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
