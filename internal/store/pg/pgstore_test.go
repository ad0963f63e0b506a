package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"coachline.org/internal/engage"
	"coachline.org/internal/quota"
	"coachline.org/internal/sat"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewStore(db), mock
}

func TestReplayClaimWon(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`update sat_tokens`).
		WithArgs("tok-1", "user-1", "POST", "/v1/messages", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := store.Replay().Claim(context.Background(), "tok-1", "user-1", "POST", "/v1/messages", now)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !won {
		t.Fatal("expected claim to win")
	}
}

func TestReplayClaimLostWhenNoRowMatches(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`update sat_tokens`).
		WithArgs("tok-1", "user-1", "POST", "/v1/messages", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := store.Replay().Claim(context.Background(), "tok-1", "user-1", "POST", "/v1/messages", now)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if won {
		t.Fatal("consumed or mismatched token must not claim")
	}
}

func TestReplayInsertAndPurge(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`insert into sat_tokens`).
		WithArgs("tok-1", "user-1", "chat.send", "POST", "/v1/messages", "", now, now.Add(2*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`delete from sat_tokens`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	err := store.Replay().Insert(context.Background(), sat.Record{
		TokenID:     "tok-1",
		Subject:     "user-1",
		Feature:     "chat.send",
		BoundMethod: "POST",
		BoundPath:   "/v1/messages",
		IssuedAt:    now,
		ExpiresAt:   now.Add(2 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	purged, err := store.Replay().PurgeExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if purged != 3 {
		t.Fatalf("expected 3 purged, got %d", purged)
	}
}

func TestRateWindowTakeWithinBudget(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2026, 3, 1, 10, 0, 10, 0, time.UTC)
	limiter := store.RateWindows(30, time.Minute).WithClock(func() time.Time { return now })

	mock.ExpectQuery(`insert into sat_rate_windows`).
		WithArgs("user-1", now.Truncate(time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	res, err := limiter.Take(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if !res.Allowed || res.Remaining != 25 || res.Limit != 30 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.ResetSeconds() != 50 {
		t.Fatalf("expected 50s reset hint, got %d", res.ResetSeconds())
	}
}

func TestRateWindowTakeOverBudget(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2026, 3, 1, 10, 0, 10, 0, time.UTC)
	limiter := store.RateWindows(30, time.Minute).WithClock(func() time.Time { return now })

	mock.ExpectQuery(`insert into sat_rate_windows`).
		WithArgs("user-1", now.Truncate(time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(31))

	res, err := limiter.Take(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if res.Allowed {
		t.Fatal("take over budget must be denied")
	}
	if res.Remaining != 0 {
		t.Fatalf("denied take must report zero remaining, got %d", res.Remaining)
	}
}

func TestEngagementAdmitLocksCoachThenInserts(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// The per-coach advisory lock must be taken inside the transaction before
	// the count-gated insert; without it two concurrent admissions for
	// distinct clients could both read a stale count and overshoot.
	mock.ExpectBegin()
	mock.ExpectExec(`select pg_advisory_xact_lock`).
		WithArgs("coach-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`insert into engagements`).
		WithArgs("eng-1", "coach-1", "client-1", engage.StatusPending, now, 20).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := store.Engagements().Admit(context.Background(), engage.Engagement{
		ID: "eng-1", CoachID: "coach-1", ClientID: "client-1",
		Status: engage.StatusPending, CreatedAt: now,
	}, 20)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if got.ID != "eng-1" {
		t.Fatalf("unexpected engagement: %+v", got)
	}
}

func TestEngagementAdmitAtCeiling(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`select pg_advisory_xact_lock`).
		WithArgs("coach-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`insert into engagements`).
		WithArgs("eng-9", "coach-1", "client-9", engage.StatusPending, now, 2).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select id, coach_id, client_id, status, created_at`).
		WithArgs("coach-1", "client-9").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.Engagements().Admit(context.Background(), engage.Engagement{
		ID: "eng-9", CoachID: "coach-1", ClientID: "client-9",
		Status: engage.StatusPending, CreatedAt: now,
	}, 2)
	var card *engage.CardinalityError
	if !errors.As(err, &card) {
		t.Fatalf("expected CardinalityError, got %v", err)
	}
	if card.Limit != 2 {
		t.Fatalf("unexpected limit: %d", card.Limit)
	}
}

func TestEngagementAdmitDuplicateReplays(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`select pg_advisory_xact_lock`).
		WithArgs("coach-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`insert into engagements`).
		WithArgs("eng-new", "coach-1", "client-1", engage.StatusPending, now, 20).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select id, coach_id, client_id, status, created_at`).
		WithArgs("coach-1", "client-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "coach_id", "client_id", "status", "created_at"}).
			AddRow("eng-old", "coach-1", "client-1", engage.StatusActive, now.Add(-time.Hour)))
	mock.ExpectCommit()

	got, err := store.Engagements().Admit(context.Background(), engage.Engagement{
		ID: "eng-new", CoachID: "coach-1", ClientID: "client-1",
		Status: engage.StatusPending, CreatedAt: now,
	}, 20)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if got.ID != "eng-old" {
		t.Fatalf("expected existing engagement, got %+v", got)
	}
}

func TestEntitlementsDefaultPlan(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`select unlimited, daily_limit, scope from entitlements`).
		WithArgs("user-1", now).
		WillReturnError(sql.ErrNoRows)

	plan, err := store.Entitlements().Resolve(context.Background(), "user-1", "messages", now)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if plan.Unlimited || plan.DailyLimit != quota.DefaultDailyLimit || plan.Scope != quota.ScopeDaily {
		t.Fatalf("unexpected default plan: %+v", plan)
	}
}

func TestEntitlementsExplicitPlan(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`select unlimited, daily_limit, scope from entitlements`).
		WithArgs("coach-vip", now).
		WillReturnRows(sqlmock.NewRows([]string{"unlimited", "daily_limit", "scope"}).
			AddRow(true, 0, quota.ScopeDaily))

	plan, err := store.Entitlements().Resolve(context.Background(), "coach-vip", "engagements", now)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !plan.Unlimited {
		t.Fatalf("expected unlimited plan, got %+v", plan)
	}
}

func TestMessagesCountForDay(t *testing.T) {
	store, mock := newMock(t)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	mock.ExpectQuery(`select count\(\*\) from messages`).
		WithArgs("client-1", "coach-1", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := store.Messages().CountForDay(context.Background(), "client-1", "coach-1", from, to)
	if err != nil {
		t.Fatalf("CountForDay: %v", err)
	}
	if count != 7 {
		t.Fatalf("expected 7, got %d", count)
	}
}
