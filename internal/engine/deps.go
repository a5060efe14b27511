package engine

import (
	"context"
	"database/sql"

	"chantier/internal/domain"
	"chantier/internal/events"
)

type DependencyOptions struct {
	PredecessorID string
	SuccessorID   string
	Kind          domain.DependencyKind
	LagDays       int
	ActorID       string
}

// CreateDependency links two tasks. The edge graph must stay acyclic, so
// insertion is refused whenever the predecessor is already reachable from
// the successor.
func (e Engine) CreateDependency(ctx context.Context, opts DependencyOptions) (domain.DependencyEdge, error) {
	var edge domain.DependencyEdge
	if opts.PredecessorID == "" || opts.SuccessorID == "" {
		return edge, validationf("predecessor and successor are required")
	}
	if opts.PredecessorID == opts.SuccessorID {
		return edge, validationf("task %s cannot depend on itself", opts.SuccessorID)
	}
	kind := opts.Kind
	if kind == "" {
		kind = domain.FinishToStart
	}
	if !kind.IsValid() {
		return edge, validationf("unknown dependency kind %s", kind)
	}

	pred, err := e.Repo.GetTask(ctx, opts.PredecessorID)
	if err != nil {
		return edge, wrapNotFound(err, "task", opts.PredecessorID)
	}
	succ, err := e.Repo.GetTask(ctx, opts.SuccessorID)
	if err != nil {
		return edge, wrapNotFound(err, "task", opts.SuccessorID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return edge, err
	}
	defer tx.Rollback()

	exists, err := e.Repo.EdgeExists(ctx, tx, opts.PredecessorID, opts.SuccessorID, kind)
	if err != nil {
		return edge, err
	}
	if exists {
		return edge, validationf("dependency %s -> %s (%s) already exists", opts.PredecessorID, opts.SuccessorID, kind)
	}
	// The walk shares the insert's transaction: an edge committed in between
	// cannot close a cycle unseen.
	reachable, err := e.reachable(ctx, tx, opts.SuccessorID, opts.PredecessorID)
	if err != nil {
		return edge, err
	}
	if reachable {
		return edge, CycleError{PredecessorID: opts.PredecessorID, SuccessorID: opts.SuccessorID}
	}

	edge = domain.DependencyEdge{
		PredecessorID: pred.ID,
		SuccessorID:   succ.ID,
		Kind:          kind,
		LagDays:       opts.LagDays,
	}
	id, err := e.Repo.InsertEdge(ctx, tx, edge)
	if err != nil {
		return edge, err
	}
	edge.ID = id
	if err := e.Events.Append(ctx, tx, "dependency.created", succ.AffaireID, "task", succ.ID, opts.ActorID, events.EventPayload{
		"predecessor_id": edge.PredecessorID,
		"kind":           edge.Kind,
		"lag_days":       edge.LagDays,
	}); err != nil {
		return edge, err
	}
	return edge, tx.Commit()
}

// reachable walks the edge graph forward from `from` looking for `target`.
// Graphs are small per affaire, a plain BFS over the stored edges is fine.
func (e Engine) reachable(ctx context.Context, tx *sql.Tx, from, target string) (bool, error) {
	seen := map[string]bool{from: true}
	frontier := []string{from}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		edges, err := e.Repo.ListEdgesByPredecessorTx(ctx, tx, cur)
		if err != nil {
			return false, err
		}
		for _, edge := range edges {
			if edge.SuccessorID == target {
				return true, nil
			}
			if !seen[edge.SuccessorID] {
				seen[edge.SuccessorID] = true
				frontier = append(frontier, edge.SuccessorID)
			}
		}
	}
	return false, nil
}
