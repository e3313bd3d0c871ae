package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"spyglass/pkg/database"
	"spyglass/pkg/logging"
	"spyglass/pkg/models"
)

var ErrNotFound = errors.New("record not found")

// RunStatus tracks the lifecycle of an analysis run row.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// AnalysisRun is one execution of the detection pipeline.
type AnalysisRun struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     sql.NullTime
	Status         RunStatus
	PostCount      int
	NarrativeCount int
	PairCount      int
	GroupCount     int
	Error          sql.NullString
}

// RunCounts summarizes a finished run for the runs table.
type RunCounts struct {
	Posts      int
	Narratives int
	Pairs      int
	Groups     int
}

// Store persists analysis runs and their outputs in PostgreSQL.
type Store struct {
	db     database.PostgresConn
	logger logging.Logger
}

func NewStore(db database.PostgresConn, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// BeginRun inserts a new run in running state and returns it.
func (s *Store) BeginRun(ctx context.Context) (*AnalysisRun, error) {
	run := &AnalysisRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    RunRunning,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_runs (id, started_at, status)
		VALUES ($1, $2, $3)
	`, run.ID, run.StartedAt, run.Status)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	return run, nil
}

// FinishRun marks a run completed and records its output counts.
func (s *Store) FinishRun(ctx context.Context, runID string, counts RunCounts) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_runs
		SET finished_at = NOW(), status = $2, post_count = $3, narrative_count = $4, pair_count = $5, group_count = $6
		WHERE id = $1
	`, runID, RunCompleted, counts.Posts, counts.Narratives, counts.Pairs, counts.Groups)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return requireRow(res)
}

// FailRun marks a run failed and records the cause.
func (s *Store) FailRun(ctx context.Context, runID string, cause error) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_runs
		SET finished_at = NOW(), status = $2, error = $3
		WHERE id = $1
	`, runID, RunFailed, cause.Error())
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	return requireRow(res)
}

// GetRun fetches one run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*AnalysisRun, error) {
	var run AnalysisRun
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, status, post_count, narrative_count, pair_count, group_count, error
		FROM analysis_runs
		WHERE id = $1
	`, runID).Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status,
		&run.PostCount, &run.NarrativeCount, &run.PairCount, &run.GroupCount, &run.Error,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// LatestRun returns the most recently completed run. Queries against pairs,
// groups and risks use this as their default scope.
func (s *Store) LatestRun(ctx context.Context) (*AnalysisRun, error) {
	var run AnalysisRun
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, status, post_count, narrative_count, pair_count, group_count, error
		FROM analysis_runs
		WHERE status = $1
		ORDER BY started_at DESC
		LIMIT 1
	`, RunCompleted).Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status,
		&run.PostCount, &run.NarrativeCount, &run.PairCount, &run.GroupCount, &run.Error,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// SavePairs writes all coordinated pairs of a run in one transaction.
func (s *Store) SavePairs(ctx context.Context, runID string, pairs []models.CoordinatedPair) error {
	if len(pairs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save pairs: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO coordinated_pairs (id, run_id, narrative_id, author_id_1, author_id_2, score, evidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("save pairs: %w", err)
	}
	defer stmt.Close()

	for _, pair := range pairs {
		evidence, err := json.Marshal(pair.Evidence)
		if err != nil {
			return fmt.Errorf("marshal evidence for %s/%s: %w", pair.AuthorID1, pair.AuthorID2, err)
		}
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), runID,
			pair.NarrativeID, pair.AuthorID1, pair.AuthorID2, pair.Score, evidence); err != nil {
			return fmt.Errorf("insert pair %s/%s: %w", pair.AuthorID1, pair.AuthorID2, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.WithFields(logging.Fields{"run_id": runID, "pairs": len(pairs)}).Debug("Saved coordinated pairs")
	return nil
}

// SaveGroups writes all coordination groups of a run in one transaction.
func (s *Store) SaveGroups(ctx context.Context, runID string, groups []models.CoordinationGroup) error {
	if len(groups) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save groups: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO coordination_groups (id, run_id, label, author_ids, narrative_ids, score, size, evidence_summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("save groups: %w", err)
	}
	defer stmt.Close()

	for _, group := range groups {
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), runID, group.ID,
			pq.Array(group.AuthorIDs), pq.Array(group.NarrativeIDs),
			group.Score, group.Size, group.EvidenceSummary); err != nil {
			return fmt.Errorf("insert group %s: %w", group.ID, err)
		}
	}
	return tx.Commit()
}

// SaveRisks writes all narrative risk assessments of a run in one transaction.
func (s *Store) SaveRisks(ctx context.Context, runID string, risks []models.NarrativeRisk) error {
	if len(risks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save risks: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO narrative_risks (id, run_id, narrative_id, risk_score, risk_level, velocity, coordination, bot_likelihood, foreign_influence, toxicity, reasons)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`)
	if err != nil {
		return fmt.Errorf("save risks: %w", err)
	}
	defer stmt.Close()

	for _, risk := range risks {
		c := risk.Components
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), runID,
			risk.NarrativeID, risk.RiskScore, risk.RiskLevel,
			c.Velocity, c.CoordinationDensity, c.BotScore, c.ForeignDomainRatio, c.Toxicity,
			pq.Array(risk.Reasons)); err != nil {
			return fmt.Errorf("insert risk for %s: %w", risk.NarrativeID, err)
		}
	}
	return tx.Commit()
}

// ListRisks returns the risk assessments of a run sorted by score descending.
// An empty level matches all levels.
func (s *Store) ListRisks(ctx context.Context, runID string, level models.RiskLevel, limit int) ([]models.NarrativeRisk, error) {
	query := `
		SELECT narrative_id, risk_score, risk_level, velocity, coordination, bot_likelihood, foreign_influence, toxicity, reasons
		FROM narrative_risks
		WHERE run_id = $1 AND ($2 = '' OR risk_level = $2)
		ORDER BY risk_score DESC, narrative_id ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, runID, string(level), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var risks []models.NarrativeRisk
	for rows.Next() {
		var r models.NarrativeRisk
		c := &r.Components
		if err := rows.Scan(&r.NarrativeID, &r.RiskScore, &r.RiskLevel,
			&c.Velocity, &c.CoordinationDensity, &c.BotScore, &c.ForeignDomainRatio, &c.Toxicity,
			pq.Array(&r.Reasons)); err != nil {
			return nil, err
		}
		risks = append(risks, r)
	}
	return risks, rows.Err()
}

// GetNarrativeRisk returns the most recent assessment for one narrative.
func (s *Store) GetNarrativeRisk(ctx context.Context, narrativeID string) (*models.NarrativeRisk, error) {
	var r models.NarrativeRisk
	c := &r.Components
	err := s.db.QueryRowContext(ctx, `
		SELECT narrative_id, risk_score, risk_level, velocity, coordination, bot_likelihood, foreign_influence, toxicity, reasons
		FROM narrative_risks
		WHERE narrative_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, narrativeID).Scan(&r.NarrativeID, &r.RiskScore, &r.RiskLevel,
		&c.Velocity, &c.CoordinationDensity, &c.BotScore, &c.ForeignDomainRatio, &c.Toxicity,
		pq.Array(&r.Reasons))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListGroups returns the coordination groups of a run sorted by score descending.
func (s *Store) ListGroups(ctx context.Context, runID string, limit int) ([]models.CoordinationGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label, author_ids, narrative_ids, score, size, evidence_summary
		FROM coordination_groups
		WHERE run_id = $1
		ORDER BY score DESC, label ASC
		LIMIT $2
	`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []models.CoordinationGroup
	for rows.Next() {
		var g models.CoordinationGroup
		if err := rows.Scan(&g.ID, pq.Array(&g.AuthorIDs), pq.Array(&g.NarrativeIDs),
			&g.Score, &g.Size, &g.EvidenceSummary); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// ListPairs returns the coordinated pairs of a run. An empty narrativeID
// matches all narratives.
func (s *Store) ListPairs(ctx context.Context, runID, narrativeID string, limit int) ([]models.CoordinatedPair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT narrative_id, author_id_1, author_id_2, score, evidence
		FROM coordinated_pairs
		WHERE run_id = $1 AND ($2 = '' OR narrative_id = $2)
		ORDER BY score DESC, author_id_1 ASC, author_id_2 ASC
		LIMIT $3
	`, runID, narrativeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []models.CoordinatedPair
	for rows.Next() {
		var p models.CoordinatedPair
		var evidence []byte
		if err := rows.Scan(&p.NarrativeID, &p.AuthorID1, &p.AuthorID2, &p.Score, &evidence); err != nil {
			return nil, err
		}
		if len(evidence) > 0 {
			if err := json.Unmarshal(evidence, &p.Evidence); err != nil {
				return nil, fmt.Errorf("decode evidence for %s/%s: %w", p.AuthorID1, p.AuthorID2, err)
			}
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
