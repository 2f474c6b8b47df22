package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/meetai/meeting-server-go/internal/model"
)

type AgentRepository interface {
	FindByID(ctx context.Context, id string) (*model.Agent, error)
	FindByIDs(ctx context.Context, ids []string) ([]model.Agent, error)
}

type agentRepo struct {
	db dbtx
}

func NewAgentRepository(db *sqlx.DB) AgentRepository {
	return &agentRepo{db: db}
}

func (r *agentRepo) FindByID(ctx context.Context, id string) (*model.Agent, error) {
	var a model.Agent
	err := r.db.GetContext(ctx, &a, `SELECT * FROM agents WHERE id = $1`, id)
	return HandleNotFound(&a, err)
}

func (r *agentRepo) FindByIDs(ctx context.Context, ids []string) ([]model.Agent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var agents []model.Agent
	err := r.db.SelectContext(ctx, &agents, `
		SELECT * FROM agents WHERE id = ANY($1)
	`, pq.Array(ids))
	return agents, err
}
