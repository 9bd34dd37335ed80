package store

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/gocql/gocql"
)

// reports expire on their own after roughly a month
const reportTTLSeconds = 2630000

var keyspaceRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,47}$`)

// Cassandra/Scylla backed store. Reports rely on the table default TTL for
// retention, so PurgeReports is a no-op.
type ScyllaStore struct {
	Session  *gocql.Session
	keyspace string
	log      *slog.Logger
}

var _ Store = (*ScyllaStore)(nil)

type ScyllaConfig struct {
	Hosts       []string
	Keyspace    string
	Username    string
	Password    string
	Replication int
	Logger      *slog.Logger
}

func NewScyllaStore(config ScyllaConfig) (*ScyllaStore, error) {
	if !keyspaceRegex.MatchString(config.Keyspace) {
		return nil, fmt.Errorf("invalid keyspace name: %q", config.Keyspace)
	}
	if config.Replication <= 0 {
		config.Replication = 1
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Debug("cassandra connect", "hosts", config.Hosts)

	var session *gocql.Session
	var err error
	for retry := 0; ; retry++ {
		cluster := gocql.NewCluster(config.Hosts...)
		cluster.Consistency = gocql.Quorum
		cluster.SerialConsistency = gocql.LocalSerial
		cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{NumRetries: 5, Min: 100 * time.Millisecond, Max: 5 * time.Second}
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
		cluster.Timeout = 5 * time.Second
		if config.Username != "" {
			cluster.Authenticator = gocql.PasswordAuthenticator{
				Username: config.Username,
				Password: config.Password,
			}
		}
		session, err = cluster.CreateSession()
		if err != nil {
			if retry >= 10 {
				return nil, fmt.Errorf("failed to connect to cassandra too many times: %w", err)
			}
			log.Error("failed to connect to cassandra, retrying", "retry", retry, "err", err)
			time.Sleep(time.Duration(retry+1) * time.Second)
			continue
		}
		break
	}

	s := &ScyllaStore{
		Session:  session,
		keyspace: config.Keyspace,
		log:      log,
	}
	if err := s.createTables(config.Replication); err != nil {
		session.Close()
		return nil, fmt.Errorf("cassandra could not create tables: %w", err)
	}
	return s, nil
}

func (s *ScyllaStore) Close() {
	s.Session.Close()
}

func (s *ScyllaStore) table(name string) string {
	return s.keyspace + "." + name
}

func (s *ScyllaStore) createTables(replication int) error {
	stmts := []string{
		fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }`, s.keyspace, replication),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT, affected_id TEXT, author_id TEXT, platform TEXT, reason TINYINT, timestamp TIMESTAMP, PRIMARY KEY (id)) WITH gc_grace_seconds = 0 AND default_time_to_live = %d`, s.table("reports"), reportTTLSeconds),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT, affected_id TEXT, mod_id TEXT, platform TEXT, punishment INT, timestamp TIMESTAMP, PRIMARY KEY (id)) WITH gc_grace_seconds = 0`, s.table("punishment")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT, user_id TEXT, platform TEXT, expire_at TIMESTAMP, expire_day TEXT, PRIMARY KEY (id)) WITH gc_grace_seconds = 0`, s.table("suspend")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT, subject TEXT, platform TEXT, action TEXT, state TEXT, attempts INT, last_error TEXT, created_at TIMESTAMP, updated_at TIMESTAMP, PRIMARY KEY (id))`, s.table("decisions")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (day TEXT, owner TEXT, claimed_at TIMESTAMP, completed_at TIMESTAMP, PRIMARY KEY (day))`, s.table("sweep_runs")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ON %s (affected_id)`, s.table("reports")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ON %s (expire_day)`, s.table("suspend")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ON %s (state)`, s.table("decisions")),
	}
	for i, text := range stmts {
		if err := s.Session.Query(text).Exec(); err != nil {
			return fmt.Errorf("cassandra schema statement [%d] %v: %w", i, text, err)
		}
	}
	return nil
}

func (s *ScyllaStore) InsertReport(ctx context.Context, r *Report) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, affected_id, author_id, platform, reason, timestamp) VALUES (?, ?, ?, ?, ?, ?)`, s.table("reports"))
	return s.Session.Query(q, r.ID, r.AffectedSubject, r.AuthorSubject, r.Platform, int8(r.Reason), r.CreatedAt).WithContext(ctx).Exec()
}

// since is not applied: the table TTL already bounds what is counted
func (s *ScyllaStore) CountReports(ctx context.Context, subject string, since time.Time) (uint32, error) {
	var n int64
	q := fmt.Sprintf(`SELECT COUNT(id) FROM %s WHERE affected_id = ?`, s.table("reports"))
	if err := s.Session.Query(q, subject).WithContext(ctx).Consistency(gocql.One).Scan(&n); err != nil {
		return 0, err
	}
	return uint32(n), nil
}

func (s *ScyllaStore) InsertPunishment(ctx context.Context, p *Punishment) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, affected_id, mod_id, platform, punishment, timestamp) VALUES (?, ?, ?, ?, ?, ?)`, s.table("punishment"))
	return s.Session.Query(q, p.ID, p.AffectedSubject, p.ModeratorSubject, p.Platform, int(p.Kind), p.CreatedAt).WithContext(ctx).Exec()
}

func (s *ScyllaStore) InsertSuspension(ctx context.Context, sus *Suspension) error {
	if sus.ID == "" {
		sus.ID = NewID()
	}
	sus.ExpireDay = DayString(sus.ExpireAt)
	q := fmt.Sprintf(`INSERT INTO %s (id, user_id, platform, expire_at, expire_day) VALUES (?, ?, ?, ?, ?)`, s.table("suspend"))
	return s.Session.Query(q, sus.ID, sus.Subject, sus.Platform, sus.ExpireAt.UTC(), sus.ExpireDay).WithContext(ctx).Exec()
}

func (s *ScyllaStore) SuspensionsExpiringOn(ctx context.Context, day time.Time) ([]Suspension, error) {
	q := fmt.Sprintf(`SELECT id, user_id, platform, expire_at, expire_day FROM %s WHERE expire_day = ?`, s.table("suspend"))
	iter := s.Session.Query(q, DayString(day)).WithContext(ctx).Iter()
	out := []Suspension{}
	var sus Suspension
	for iter.Scan(&sus.ID, &sus.Subject, &sus.Platform, &sus.ExpireAt, &sus.ExpireDay) {
		out = append(out, sus)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ScyllaStore) InsertDecision(ctx context.Context, d *Decision) error {
	if d.ID == "" {
		d.ID = NewID()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	q := fmt.Sprintf(`INSERT INTO %s (id, subject, platform, action, state, attempts, last_error, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table("decisions"))
	return s.Session.Query(q, d.ID, d.Subject, d.Platform, string(d.Action), string(d.State), d.Attempts, d.LastError, d.CreatedAt, d.UpdatedAt).WithContext(ctx).Exec()
}

func (s *ScyllaStore) UpdateDecision(ctx context.Context, id string, state DecisionState, lastErr string) error {
	var attempts int
	q := fmt.Sprintf(`SELECT attempts FROM %s WHERE id = ?`, s.table("decisions"))
	if err := s.Session.Query(q, id).WithContext(ctx).Scan(&attempts); err != nil {
		if err == gocql.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	q = fmt.Sprintf(`UPDATE %s SET state = ?, last_error = ?, attempts = ?, updated_at = ? WHERE id = ?`, s.table("decisions"))
	return s.Session.Query(q, string(state), lastErr, attempts+1, time.Now().UTC(), id).WithContext(ctx).Exec()
}

func (s *ScyllaStore) RetryableDecisions(ctx context.Context, olderThan time.Time, maxAttempts int) ([]Decision, error) {
	out := []Decision{}
	q := fmt.Sprintf(`SELECT id, subject, platform, action, state, attempts, last_error, created_at, updated_at FROM %s WHERE state = ?`, s.table("decisions"))
	for _, state := range []DecisionState{DecisionPending, DecisionFailed} {
		iter := s.Session.Query(q, string(state)).WithContext(ctx).Iter()
		var d Decision
		var action, st string
		for iter.Scan(&d.ID, &d.Subject, &d.Platform, &action, &st, &d.Attempts, &d.LastError, &d.CreatedAt, &d.UpdatedAt) {
			d.Action = DecisionAction(action)
			d.State = DecisionState(st)
			if d.Attempts < maxAttempts && d.UpdatedAt.Before(olderThan) {
				out = append(out, d)
			}
		}
		if err := iter.Close(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *ScyllaStore) LastSweep(ctx context.Context) (time.Time, bool, error) {
	q := fmt.Sprintf(`SELECT day, completed_at FROM %s`, s.table("sweep_runs"))
	iter := s.Session.Query(q).WithContext(ctx).Iter()
	last := ""
	var day string
	var completed time.Time
	for iter.Scan(&day, &completed) {
		if !completed.IsZero() && day > last {
			last = day
		}
	}
	if err := iter.Close(); err != nil {
		return time.Time{}, false, err
	}
	if last == "" {
		return time.Time{}, false, nil
	}
	t, err := ParseDay(last)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *ScyllaStore) ClaimSweep(ctx context.Context, day time.Time, owner string, lease time.Duration) (bool, error) {
	key := DayString(day)
	now := time.Now().UTC()

	existing := map[string]any{}
	q := fmt.Sprintf(`INSERT INTO %s (day, owner, claimed_at) VALUES (?, ?, ?) IF NOT EXISTS`, s.table("sweep_runs"))
	applied, err := s.Session.Query(q, key, owner, now).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return false, err
	}
	if applied {
		return true, nil
	}

	run := SweepRun{Day: key}
	run.Owner, _ = existing["owner"].(string)
	run.ClaimedAt, _ = existing["claimed_at"].(time.Time)
	if completed, ok := existing["completed_at"].(time.Time); ok && !completed.IsZero() {
		run.CompletedAt = &completed
	}
	if !claimable(&run, owner, now, lease) {
		return false, nil
	}

	// conditional on the claim we observed, so two instances cannot both take over
	q = fmt.Sprintf(`UPDATE %s SET owner = ?, claimed_at = ? WHERE day = ? IF owner = ? AND claimed_at = ?`, s.table("sweep_runs"))
	return s.Session.Query(q, owner, now, key, run.Owner, run.ClaimedAt).WithContext(ctx).MapScanCAS(map[string]any{})
}

func (s *ScyllaStore) CompleteSweep(ctx context.Context, day time.Time, owner string) error {
	q := fmt.Sprintf(`UPDATE %s SET completed_at = ? WHERE day = ? IF owner = ?`, s.table("sweep_runs"))
	applied, err := s.Session.Query(q, time.Now().UTC(), DayString(day), owner).WithContext(ctx).MapScanCAS(map[string]any{})
	if err != nil {
		return err
	}
	if !applied {
		return ErrNotFound
	}
	return nil
}

func (s *ScyllaStore) PurgeReports(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
