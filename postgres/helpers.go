// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package postgres

import (
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/ugorji/go/codec"
)

// argsToBytes and bytesToArgs serialize a job's opaque argument map,
// matching the teacher's mapToBytes/bytesToMap: CBOR via ugorji/go,
// the same codec the teacher uses to persist work unit/attempt data
// in this same postgres package.
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

// timeToNullTime encodes a time as a pq-specific NullTime, mapping the
// zero time to null.
func timeToNullTime(t time.Time) pq.NullTime {
	return pq.NullTime{Time: t, Valid: !t.IsZero()}
}

// nullTimeToTime decodes a pq-specific NullTime to a time, mapping a
// null value to the zero time.
func nullTimeToTime(nt pq.NullTime) time.Time {
	if nt.Valid {
		return nt.Time
	}
	return time.Time{}
}

// buildSelect constructs a simple SQL SELECT statement by string
// concatenation. All of the conditions are ANDed together.
func buildSelect(outputs, tables, conditions []string) string {
	query := "SELECT "
	query += strings.Join(outputs, ", ")
	query += " FROM "
	query += strings.Join(tables, ", ")
	if len(conditions) > 0 {
		query += " WHERE "
		query += strings.Join(conditions, " AND ")
	}
	return query
}

// buildUpdate constructs a simple SQL UPDATE statement by string
// concatenation. All of the conditions are ANDed together.
func buildUpdate(table string, changes, conditions []string) string {
	query := "UPDATE " + table
	if len(changes) > 0 {
		query += " SET " + strings.Join(changes, ", ")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	return query
}
