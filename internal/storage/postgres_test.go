package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"spyglass/pkg/logging"
	"spyglass/pkg/models"
)

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db, logging.NewLogger()), mock
}

func TestBeginAndFinishRun(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectExec(`INSERT INTO analysis_runs`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), RunRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	run, err := store.BeginRun(context.Background())
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if run.ID == "" || run.Status != RunRunning {
		t.Fatalf("unexpected run: %+v", run)
	}

	mock.ExpectExec(`UPDATE analysis_runs`).
		WithArgs(run.ID, RunCompleted, 100, 4, 7, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	counts := RunCounts{Posts: 100, Narratives: 4, Pairs: 7, Groups: 2}
	if err := store.FinishRun(context.Background(), run.ID, counts); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFinishRunUnknownID(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectExec(`UPDATE analysis_runs`).
		WithArgs("missing", RunCompleted, 0, 0, 0, 0).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.FinishRun(context.Background(), "missing", RunCounts{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFailRunRecordsCause(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectExec(`UPDATE analysis_runs`).
		WithArgs("run-1", RunFailed, "narrative n1: missing embeddings").
		WillReturnResult(sqlmock.NewResult(0, 1))

	cause := errors.New("narrative n1: missing embeddings")
	if err := store.FailRun(context.Background(), "run-1", cause); err != nil {
		t.Fatalf("FailRun: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSavePairsTransaction(t *testing.T) {
	store, mock := setupStore(t)

	pairs := []models.CoordinatedPair{
		{
			AuthorID1:   "alice",
			AuthorID2:   "bob",
			NarrativeID: "n1",
			Score:       0.91,
			Evidence: models.CoordinationEvidence{
				TextSimilarity:   0.95,
				TimeDeltaSeconds: 600,
				SharedDomains:    []string{"shared.ru"},
			},
		},
		{AuthorID1: "bob", AuthorID2: "carol", NarrativeID: "n1", Score: 0.88},
	}

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO coordinated_pairs`)
	mock.ExpectExec(`INSERT INTO coordinated_pairs`).
		WithArgs(sqlmock.AnyArg(), "run-1", "n1", "alice", "bob", 0.91, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO coordinated_pairs`).
		WithArgs(sqlmock.AnyArg(), "run-1", "n1", "bob", "carol", 0.88, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.SavePairs(context.Background(), "run-1", pairs); err != nil {
		t.Fatalf("SavePairs: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSavePairsEmptySkipsTransaction(t *testing.T) {
	store, mock := setupStore(t)

	if err := store.SavePairs(context.Background(), "run-1", nil); err != nil {
		t.Fatalf("SavePairs: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveGroupsRollsBackOnError(t *testing.T) {
	store, mock := setupStore(t)

	groups := []models.CoordinationGroup{
		{ID: "coord_group_0001", AuthorIDs: []string{"a", "b", "c"}, NarrativeIDs: []string{"n1"}, Score: 0.9, Size: 3},
	}

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO coordination_groups`)
	mock.ExpectExec(`INSERT INTO coordination_groups`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if err := store.SaveGroups(context.Background(), "run-1", groups); err == nil {
		t.Fatal("expected insert error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListRisksScansComponentsAndReasons(t *testing.T) {
	store, mock := setupStore(t)

	rows := sqlmock.NewRows([]string{
		"narrative_id", "risk_score", "risk_level",
		"velocity", "coordination", "bot_likelihood", "foreign_influence", "toxicity", "reasons",
	}).
		AddRow("n1", 0.72, "HIGH", 0.9, 0.8, 0.5, 0.4, 0.2,
			"{\"High posting velocity (0.90) - contributes 0.23 to risk\"}").
		AddRow("n2", 0.31, "MEDIUM", 0.4, 0.2, 0.3, 0.1, 0.0,
			"{\"Bot-like activity patterns (0.30) - contributes 0.06 to risk\"}")

	mock.ExpectQuery(`FROM narrative_risks\s+WHERE run_id = \$1`).
		WithArgs("run-1", "", 50).
		WillReturnRows(rows)

	risks, err := store.ListRisks(context.Background(), "run-1", "", 50)
	if err != nil {
		t.Fatalf("ListRisks: %v", err)
	}
	if len(risks) != 2 {
		t.Fatalf("risks = %d, want 2", len(risks))
	}
	if risks[0].NarrativeID != "n1" || risks[0].RiskLevel != models.RiskHigh {
		t.Errorf("first risk = %+v", risks[0])
	}
	if risks[0].Components.Velocity != 0.9 {
		t.Errorf("velocity = %v, want 0.9", risks[0].Components.Velocity)
	}
	if len(risks[0].Reasons) != 1 {
		t.Errorf("reasons = %v", risks[0].Reasons)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetNarrativeRiskNotFound(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectQuery(`FROM narrative_risks\s+WHERE narrative_id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"narrative_id", "risk_score", "risk_level",
			"velocity", "coordination", "bot_likelihood", "foreign_influence", "toxicity", "reasons",
		}))

	_, err := store.GetNarrativeRisk(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListGroupsRoundTrip(t *testing.T) {
	store, mock := setupStore(t)

	rows := sqlmock.NewRows([]string{"label", "author_ids", "narrative_ids", "score", "size", "evidence_summary"}).
		AddRow("coord_group_0001", "{a,b,c}", "{n1,n2}", 0.93, 3, "Group of 3 authors with avg coordination score 0.93")

	mock.ExpectQuery(`FROM coordination_groups\s+WHERE run_id = \$1`).
		WithArgs("run-1", 20).
		WillReturnRows(rows)

	groups, err := store.ListGroups(context.Background(), "run-1", 20)
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}
	g := groups[0]
	if g.ID != "coord_group_0001" || g.Size != 3 {
		t.Errorf("group = %+v", g)
	}
	if len(g.AuthorIDs) != 3 || len(g.NarrativeIDs) != 2 {
		t.Errorf("arrays = %v / %v", g.AuthorIDs, g.NarrativeIDs)
	}
}

func TestListPairsDecodesEvidence(t *testing.T) {
	store, mock := setupStore(t)

	rows := sqlmock.NewRows([]string{"narrative_id", "author_id_1", "author_id_2", "score", "evidence"}).
		AddRow("n1", "alice", "bob", 0.91,
			[]byte(`{"text_similarity":0.95,"time_delta_seconds":600,"shared_domains":["shared.ru"]}`))

	mock.ExpectQuery(`FROM coordinated_pairs\s+WHERE run_id = \$1`).
		WithArgs("run-1", "n1", 100).
		WillReturnRows(rows)

	pairs, err := store.ListPairs(context.Background(), "run-1", "n1", 100)
	if err != nil {
		t.Fatalf("ListPairs: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("pairs = %d, want 1", len(pairs))
	}
	p := pairs[0]
	if p.Evidence.TextSimilarity != 0.95 || p.Evidence.TimeDeltaSeconds != 600 {
		t.Errorf("evidence = %+v", p.Evidence)
	}
	if len(p.Evidence.SharedDomains) != 1 {
		t.Errorf("shared domains = %v", p.Evidence.SharedDomains)
	}
}

func TestLatestRun(t *testing.T) {
	store, mock := setupStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "started_at", "finished_at", "status",
		"post_count", "narrative_count", "pair_count", "group_count", "error",
	}).AddRow("run-9", now.Add(-time.Hour), now, "completed", 500, 6, 12, 3, nil)

	mock.ExpectQuery(`FROM analysis_runs\s+WHERE status = \$1`).
		WithArgs(RunCompleted).
		WillReturnRows(rows)

	run, err := store.LatestRun(context.Background())
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if run.ID != "run-9" || run.PostCount != 500 {
		t.Errorf("run = %+v", run)
	}
	if !run.FinishedAt.Valid {
		t.Error("finished_at should be set")
	}
}
