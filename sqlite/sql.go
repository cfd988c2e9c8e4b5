// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ugorji/go/codec"

	"github.com/taskqueue/taskqueue/queue"
)

const allColumnsList = "id, tag, args, status, version, run_at, created_at, locked_at, completed_at, worker_id, worker_heartbeat, exc_reason, exc_traceback"

// argsToBytes and bytesToArgs serialize a job's opaque argument map
// with the same CBOR codec the postgres adapter uses, so both SQL
// backends share one on-disk args encoding.
func argsToBytes(in map[string]interface{}) (out []byte, err error) {
	if in == nil {
		return nil, nil
	}
	cbor := new(codec.CborHandle)
	encoder := codec.NewEncoderBytes(&out, cbor)
	err = encoder.Encode(in)
	return
}

func bytesToArgs(in []byte) (out map[string]interface{}, err error) {
	if len(in) == 0 {
		return nil, nil
	}
	cbor := new(codec.CborHandle)
	decoder := codec.NewDecoderBytes(in, cbor)
	err = decoder.Decode(&out)
	return
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func scanJob(row *sql.Row) (*queue.Job, error) {
	var (
		j                                                  queue.Job
		status                                             int
		argsBytes                                          []byte
		workerID, reason, traceback                        sql.NullString
		runAt, createdAt, lockedAt, completedAt, heartbeat sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.Tag, &argsBytes, &status, &j.Version,
		&runAt, &createdAt, &lockedAt, &completedAt,
		&workerID, &heartbeat, &reason, &traceback,
	)
	if err != nil {
		return nil, err
	}
	j.Status = queue.Status(status)
	j.Args, err = bytesToArgs(argsBytes)
	if err != nil {
		return nil, err
	}
	if runAt.Valid {
		j.RunAt = runAt.Time
	}
	if createdAt.Valid {
		j.CreatedAt = createdAt.Time
	}
	if lockedAt.Valid {
		j.LockedAt = lockedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = completedAt.Time
	}
	if heartbeat.Valid {
		j.WorkerHeartbeat = heartbeat.Time
	}
	if workerID.Valid {
		j.WorkerID = workerID.String
	}
	if reason.Valid || traceback.Valid {
		j.WorkerException = &queue.Exception{Reason: reason.String, Traceback: traceback.String}
	}
	return &j, nil
}

func nullException(j *queue.Job, reason bool) interface{} {
	if j.WorkerException == nil {
		return nil
	}
	if reason {
		return j.WorkerException.Reason
	}
	return j.WorkerException.Traceback
}

func (s *Store) CreateJob(ctx context.Context, j queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	argsBytes, err := argsToBytes(j.Args)
	if err != nil {
		return err
	}
	query := `INSERT OR IGNORE INTO jobs (` + allColumnsList + `)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`
	_, err = s.db.ExecContext(ctx, query,
		j.ID, j.Tag, argsBytes, int(j.Status), j.Version,
		nullTime(j.RunAt), nullTime(j.CreatedAt), nullTime(j.LockedAt), nullTime(j.CompletedAt),
		nullStr(j.WorkerID), nullTime(j.WorkerHeartbeat),
		nullException(&j, true), nullException(&j, false),
	)
	return err
}

func nullStr(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func (s *Store) GetJob(ctx context.Context, id string) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+allColumnsList+` FROM jobs WHERE id=?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Store) CASUpdate(ctx context.Context, id string, expectVersion int, mutate func(*queue.Job)) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+allColumnsList+` FROM jobs WHERE id=?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows || (err == nil && j.Version != expectVersion) {
		return nil, &queue.ConcurrencyError{ID: id, ExpectedVersion: expectVersion}
	}
	if err != nil {
		return nil, err
	}

	mutate(j)
	j.Version = expectVersion + 1

	argsBytes, err := argsToBytes(j.Args)
	if err != nil {
		return nil, err
	}
	update := `UPDATE jobs SET tag=?, args=?, status=?, version=?, run_at=?, locked_at=?,
		completed_at=?, worker_id=?, worker_heartbeat=?, exc_reason=?, exc_traceback=?
		WHERE id=?`
	_, err = s.db.ExecContext(ctx, update,
		j.Tag, argsBytes, int(j.Status), j.Version,
		nullTime(j.RunAt), nullTime(j.LockedAt), nullTime(j.CompletedAt),
		nullStr(j.WorkerID), nullTime(j.WorkerHeartbeat),
		nullException(j, true), nullException(j, false), id,
	)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Store) CASDelete(ctx context.Context, id string, expectVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id=? AND version=?`, id, expectVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &queue.ConcurrencyError{ID: id, ExpectedVersion: expectVersion}
	}
	return nil
}

func tagPlaceholders(tags []string) (string, []interface{}) {
	marks := make([]string, len(tags))
	args := make([]interface{}, len(tags))
	for i, t := range tags {
		marks[i] = "?"
		args[i] = t
	}
	return strings.Join(marks, ","), args
}

// AcquireIdle implements leasing algorithm step 1 (spec §4.1). The
// Store-wide mutex plays the role PostgreSQL's FOR UPDATE SKIP LOCKED
// plays there: only one goroutine can be inside this method at a
// time, so the SELECT-then-UPDATE here cannot race with itself.
func (s *Store) AcquireIdle(ctx context.Context, tags []string, workerID string, now time.Time) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tags) == 0 {
		return nil, nil
	}
	marks, args := tagPlaceholders(tags)
	query := fmt.Sprintf(`SELECT id FROM jobs WHERE status=? AND tag IN (%s) AND (run_at IS NULL OR run_at<=?) ORDER BY run_at ASC LIMIT 1`, marks)
	queryArgs := append([]interface{}{int(queue.IDLE)}, args...)
	queryArgs = append(queryArgs, now)

	var id string
	err := s.db.QueryRowContext(ctx, query, queryArgs...).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `UPDATE jobs SET status=?, worker_id=?, locked_at=?, worker_heartbeat=?, version=version+1 WHERE id=?`,
		int(queue.LOCKED), workerID, now, now, id)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+allColumnsList+` FROM jobs WHERE id=?`, id)
	return scanJob(row)
}

// AcquireAbandoned implements leasing algorithm step 2 (spec §4.1).
func (s *Store) AcquireAbandoned(ctx context.Context, tags []string, workerID string, now, heartbeatCutoff time.Time) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tags) == 0 {
		return nil, nil
	}
	marks, args := tagPlaceholders(tags)
	query := fmt.Sprintf(`SELECT id FROM jobs WHERE status=? AND tag IN (%s) AND worker_heartbeat<? LIMIT 1`, marks)
	queryArgs := append([]interface{}{int(queue.LOCKED)}, args...)
	queryArgs = append(queryArgs, heartbeatCutoff)

	var id string
	err := s.db.QueryRowContext(ctx, query, queryArgs...).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `UPDATE jobs SET worker_id=?, locked_at=?, worker_heartbeat=?, version=version+1 WHERE id=?`,
		workerID, now, now, id)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+allColumnsList+` FROM jobs WHERE id=?`, id)
	return scanJob(row)
}
