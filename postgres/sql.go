// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/taskqueue/taskqueue/queue"
)

func (s *Store) CreateJob(ctx context.Context, j queue.Job) error {
	argsBytes, err := argsToBytes(j.Args)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		 ON CONFLICT (%s) DO NOTHING`,
		jobsTable, columnList(), colID)
	_, err = s.db.ExecContext(ctx, query,
		j.ID, j.Tag, argsBytes, int(j.Status), j.Version,
		timeToNullTime(j.RunAt), timeToNullTime(j.CreatedAt),
		timeToNullTime(j.LockedAt), timeToNullTime(j.CompletedAt),
		nullString(j.WorkerID), timeToNullTime(j.WorkerHeartbeat),
		nullException(j, true), nullException(j, false),
	)
	return err
}

func columnList() string {
	out := ""
	for i, c := range allColumns {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullException(j queue.Job, reason bool) sql.NullString {
	if j.WorkerException == nil {
		return sql.NullString{}
	}
	if reason {
		return nullString(j.WorkerException.Reason)
	}
	return nullString(j.WorkerException.Traceback)
}

func (s *Store) GetJob(ctx context.Context, id string) (*queue.Job, error) {
	query := buildSelect(allColumns, []string{jobsTable}, []string{colID + "=$1"})
	row := s.db.QueryRowContext(ctx, query, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scannable) (*queue.Job, error) {
	var (
		j                          queue.Job
		status                     int
		argsBytes                  []byte
		workerID, reason, traceback sql.NullString
		runAt, createdAt, lockedAt, completedAt, heartbeat pq.NullTime
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
	j.RunAt = nullTimeToTime(runAt)
	j.CreatedAt = nullTimeToTime(createdAt)
	j.LockedAt = nullTimeToTime(lockedAt)
	j.CompletedAt = nullTimeToTime(completedAt)
	j.WorkerHeartbeat = nullTimeToTime(heartbeat)
	if workerID.Valid {
		j.WorkerID = workerID.String
	}
	if reason.Valid || traceback.Valid {
		j.WorkerException = &queue.Exception{Reason: reason.String, Traceback: traceback.String}
	}
	return &j, nil
}

// CASUpdate reads the row with SELECT ... FOR UPDATE, compares its
// version to expectVersion in Go, applies mutate, and writes the
// mutable columns back inside the same transaction, so the row lock
// keeps the check and the write atomic, mirroring the teacher's
// read-modify-write transaction pattern in postgres/work_unit.go.
func (s *Store) CASUpdate(ctx context.Context, id string, expectVersion int, mutate func(*queue.Job)) (*queue.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := buildSelect(allColumns, []string{jobsTable}, []string{colID + "=$1"}) + " FOR UPDATE"
	row := tx.QueryRowContext(ctx, query, id)
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
	update := buildUpdate(jobsTable, []string{
		colTag + "=$1", colArgs + "=$2", colStatus + "=$3", colVersion + "=$4",
		colRunAt + "=$5", colLockedAt + "=$6", colCompletedAt + "=$7",
		colWorkerID + "=$8", colWorkerHeartbeat + "=$9",
		colExcReason + "=$10", colExcTraceback + "=$11",
	}, []string{colID + "=$12"})
	_, err = tx.ExecContext(ctx, update,
		j.Tag, argsBytes, int(j.Status), j.Version,
		timeToNullTime(j.RunAt), timeToNullTime(j.LockedAt), timeToNullTime(j.CompletedAt),
		nullString(j.WorkerID), timeToNullTime(j.WorkerHeartbeat),
		nullException(*j, true), nullException(*j, false), id,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Store) CASDelete(ctx context.Context, id string, expectVersion int) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s=$1 AND %s=$2", jobsTable, colID, colVersion)
	res, err := s.db.ExecContext(ctx, query, id, expectVersion)
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

// AcquireIdle implements leasing algorithm step 1 (spec §4.1) as a
// single UPDATE ... WHERE id = (SELECT ... FOR UPDATE SKIP LOCKED
// LIMIT 1) RETURNING, so concurrent callers never race on the same
// row. Among multiple candidates the one with the earliest run_at is
// taken, with a null run_at first.
func (s *Store) AcquireIdle(ctx context.Context, tags []string, workerID string, now time.Time) (*queue.Job, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		UPDATE %s SET %s=$1, %s=$2, %s=$2, %s=%s+1, %s=$3
		WHERE %s = (
			SELECT %s FROM %s
			WHERE %s=$4 AND %s = ANY($5) AND (%s IS NULL OR %s<=$2)
			ORDER BY %s ASC NULLS FIRST
			FOR UPDATE SKIP LOCKED LIMIT 1
		)
		RETURNING %s`,
		jobsTable, colStatus, colLockedAt, colWorkerHeartbeat, colVersion, colVersion, colWorkerID,
		colID, colID, jobsTable, colStatus, colTag, colRunAt, colRunAt, colRunAt,
		columnList())
	row := s.db.QueryRowContext(ctx, query,
		int(queue.LOCKED), now, workerID, int(queue.IDLE), pq.Array(tags))
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

// AcquireAbandoned implements leasing algorithm step 2 (spec §4.1):
// reassign a LOCKED job whose heartbeat predates heartbeatCutoff.
func (s *Store) AcquireAbandoned(ctx context.Context, tags []string, workerID string, now, heartbeatCutoff time.Time) (*queue.Job, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		UPDATE %s SET %s=$1, %s=$2, %s=$2, %s=%s+1
		WHERE %s = (
			SELECT %s FROM %s
			WHERE %s=$3 AND %s = ANY($4) AND %s<$5
			FOR UPDATE SKIP LOCKED LIMIT 1
		)
		RETURNING %s`,
		jobsTable, colWorkerID, colLockedAt, colWorkerHeartbeat, colVersion, colVersion,
		colID, colID, jobsTable, colStatus, colTag, colWorkerHeartbeat,
		columnList())
	row := s.db.QueryRowContext(ctx, query,
		workerID, now, int(queue.LOCKED), pq.Array(tags), heartbeatCutoff)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}
