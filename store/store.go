// Persistence of reports, sanctions, decision records and sweep progress.
//
// Includes an interface and implementations using Cassandra/Scylla, SQL
// databases (via gorm: sqlite and postgres), and in-process memory.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Reports older than this are no longer counted, and are eventually purged.
const ReportRetention = 30 * 24 * time.Hour

var ErrNotFound = errors.New("record not found")

type Report struct {
	ID              string `gorm:"primaryKey"`
	AffectedSubject string `gorm:"index"`
	AuthorSubject   string
	Platform        string
	Reason          uint8
	CreatedAt       time.Time `gorm:"index"`
}

type PunishmentKind uint8

const (
	PunishmentSuspend   PunishmentKind = 0
	PunishmentUnsuspend PunishmentKind = 1
)

func (k PunishmentKind) String() string {
	switch k {
	case PunishmentSuspend:
		return "suspend"
	case PunishmentUnsuspend:
		return "unsuspend"
	default:
		return "unknown"
	}
}

// Audit record of a direct moderator action.
type Punishment struct {
	ID               string `gorm:"primaryKey"`
	AffectedSubject  string `gorm:"index"`
	ModeratorSubject string
	Platform         string
	Kind             PunishmentKind
	CreatedAt        time.Time
}

// Time-boxed suspension created by the automatic escalation path. Platform is
// either a platform name or the "all" wildcard.
type Suspension struct {
	ID       string `gorm:"primaryKey"`
	Subject  string `gorm:"index"`
	Platform string
	ExpireAt time.Time
	// ExpireAt as YYYY-MM-DD (UTC); filled in by the store on insert
	ExpireDay string `gorm:"index"`
}

type DecisionAction string

const (
	ActionSuspend   DecisionAction = "suspend"
	ActionUnsuspend DecisionAction = "unsuspend"
	ActionDelete    DecisionAction = "delete"
)

type DecisionState string

const (
	DecisionPending DecisionState = "pending"
	DecisionApplied DecisionState = "applied"
	DecisionFailed  DecisionState = "failed"
)

// Durable record of a sanction that is about to be propagated. Written before
// any outbound call, so an interrupted or failed propagation can be resumed.
type Decision struct {
	ID        string `gorm:"primaryKey"`
	Subject   string
	Platform  string
	Action    DecisionAction
	State     DecisionState `gorm:"index"`
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// One row per UTC day the expiry sweep has claimed or completed.
type SweepRun struct {
	Day         string `gorm:"primaryKey"`
	Owner       string
	ClaimedAt   time.Time
	CompletedAt *time.Time
}

type Store interface {
	InsertReport(ctx context.Context, r *Report) error
	// counts reports against subject created at or after since
	CountReports(ctx context.Context, subject string, since time.Time) (uint32, error)
	InsertPunishment(ctx context.Context, p *Punishment) error
	InsertSuspension(ctx context.Context, s *Suspension) error
	SuspensionsExpiringOn(ctx context.Context, day time.Time) ([]Suspension, error)

	InsertDecision(ctx context.Context, d *Decision) error
	// sets the state and last error, and counts one more attempt
	UpdateDecision(ctx context.Context, id string, state DecisionState, lastErr string) error
	// pending or failed decisions last updated before olderThan, with fewer than maxAttempts attempts
	RetryableDecisions(ctx context.Context, olderThan time.Time, maxAttempts int) ([]Decision, error)

	// most recent completed sweep day; false if no sweep ever completed
	LastSweep(ctx context.Context) (time.Time, bool, error)
	// claims a sweep day for owner. A claim held by another owner is only taken over once older than lease.
	ClaimSweep(ctx context.Context, day time.Time, owner string, lease time.Duration) (bool, error)
	CompleteSweep(ctx context.Context, day time.Time, owner string) error

	// deletes reports created before cutoff, returning how many were removed
	PurgeReports(ctx context.Context, before time.Time) (int64, error)
}

func NewID() string {
	return uuid.New().String()
}

// Truncates to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func DayString(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, s, time.UTC)
}

func claimable(run *SweepRun, owner string, now time.Time, lease time.Duration) bool {
	if run.CompletedAt != nil {
		return false
	}
	return run.Owner == owner || run.ClaimedAt.Add(lease).Before(now)
}
