package datastore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestParseSQLOperation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		sql      string
		expected string
	}{
		{"SELECT * FROM identifications", "select"},
		{"  INSERT INTO identifications VALUES (?)", "insert"},
		{"update identifications set current = 0", "update"},
		{"DELETE FROM taxon_ancestors", "delete"},
		{"", "unknown"},
		{"   ", "unknown"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, parseSQLOperation(tc.sql), "sql: %q", tc.sql)
	}
}

func TestCategorizeError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		expected string
	}{
		{"sqlite unique", errors.New("UNIQUE constraint failed: identifications.observation_id"), "unique_violation"},
		{"mysql duplicate", errors.New("Error 1062: Duplicate entry '1-7' for key 'idx_identifications_one_current'"), "unique_violation"},
		{"gorm duplicated key", gorm.ErrDuplicatedKey, "unique_violation"},
		{"sqlite busy", errors.New("database is locked"), "lock_contention"},
		{"mysql lock wait", errors.New("Lock wait timeout exceeded"), "lock_contention"},
		{"connection refused", errors.New("dial tcp: connection refused"), "connection"},
		{"context deadline", context.DeadlineExceeded, "timeout"},
		{"query timeout", errors.New("query timeout"), "timeout"},
		{"anything else", errors.New("syntax error"), "other"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, categorizeError(tc.err))
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	assert.False(t, isUniqueViolation(nil))
	assert.True(t, isUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, isUniqueViolation(errors.New("UNIQUE constraint failed: identifications")))
	assert.True(t, isUniqueViolation(errors.New("Duplicate entry '1-7' for key 'uq'")))
	assert.False(t, isUniqueViolation(errors.New("database is locked")))
	assert.False(t, isUniqueViolation(gorm.ErrRecordNotFound))
}
