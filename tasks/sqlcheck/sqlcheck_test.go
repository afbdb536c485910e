package sqlcheck_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openplane/warehub/tasks/sqlcheck"
)

func TestCheckInjectsLimitWhenAbsent(t *testing.T) {
	out, err := sqlcheck.Check("SELECT * FROM t", 1000)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t LIMIT 1000", out)
}

func TestCheckKeepsAcceptableLimit(t *testing.T) {
	out, err := sqlcheck.Check("SELECT id FROM t LIMIT 50", 1000)
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM t LIMIT 50", out)
}

func TestCheckRejectsOversizedLimit(t *testing.T) {
	_, err := sqlcheck.Check("SELECT id FROM t LIMIT 5000", 1000)
	require.ErrorIs(t, err, sqlcheck.ErrLimitTooLarge)
}

func TestCheckRejectsMultipleStatements(t *testing.T) {
	_, err := sqlcheck.Check("SELECT 1; SELECT 2", 1000)
	require.ErrorIs(t, err, sqlcheck.ErrMultipleStatements)
}

func TestCheckAllowsTrailingSemicolon(t *testing.T) {
	out, err := sqlcheck.Check("SELECT 1;", 1000)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 LIMIT 1000", out)
}

func TestCheckRejectsNonSelect(t *testing.T) {
	for _, sql := range []string{
		"DELETE FROM t",
		"UPDATE t SET a = 1",
		"DROP TABLE t",
		"INSERT INTO t VALUES (1)",
	} {
		_, err := sqlcheck.Check(sql, 1000)
		assert.ErrorIs(t, err, sqlcheck.ErrNotSelect, sql)
	}
}

func TestCheckRejectsEmpty(t *testing.T) {
	for _, sql := range []string{"", "   ", ";", "-- just a comment"} {
		_, err := sqlcheck.Check(sql, 1000)
		assert.ErrorIs(t, err, sqlcheck.ErrEmpty, "%q", sql)
	}
}

func TestCheckAllowsCTE(t *testing.T) {
	out, err := sqlcheck.Check("WITH top AS (SELECT id FROM t) SELECT * FROM top", 100)
	require.NoError(t, err)
	assert.Equal(t, "WITH top AS (SELECT id FROM t) SELECT * FROM top LIMIT 100", out)
}

func TestCheckIgnoresSemicolonInsideString(t *testing.T) {
	out, err := sqlcheck.Check("SELECT * FROM t WHERE note = 'a;b'", 10)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE note = 'a;b' LIMIT 10", out)
}

func TestCheckIgnoresKeywordsInsideString(t *testing.T) {
	// "LIMIT" inside a literal must not satisfy the limit check.
	out, err := sqlcheck.Check("SELECT * FROM t WHERE note = 'LIMIT 9999'", 10)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE note = 'LIMIT 9999' LIMIT 10", out)
}

func TestCheckIgnoresComments(t *testing.T) {
	out, err := sqlcheck.Check("SELECT * FROM t /* LIMIT 9999 */", 10)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t /* LIMIT 9999 */ LIMIT 10", out)

	_, err = sqlcheck.Check("/* DELETE */ SELECT 1 LIMIT 5", 10)
	require.NoError(t, err)
}

func TestCheckInjectsLimitAfterTrailingLineComment(t *testing.T) {
	// Appending on the same line would bury the clause inside the comment and
	// dispatch an uncapped query.
	out, err := sqlcheck.Check("SELECT * FROM t -- show everything", 500)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t -- show everything\nLIMIT 500", out)

	// A comment followed by more statement text keeps the inline form.
	out, err = sqlcheck.Check("SELECT * -- all columns\nFROM t", 500)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * -- all columns\nFROM t LIMIT 500", out)
}

func TestCheckCaseInsensitiveKeywords(t *testing.T) {
	_, err := sqlcheck.Check("select * from t limit 500", 100)
	require.ErrorIs(t, err, sqlcheck.ErrLimitTooLarge)
}
