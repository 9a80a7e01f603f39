package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shen2/MSM/pkg/engine"
	"github.com/shen2/MSM/pkg/engine/enginetest"
)

func TestParseBindValue(t *testing.T) {
	tests := []struct {
		raw  string
		want interface{}
	}{
		{raw: "7", want: int64(7)},
		{raw: "-3", want: int64(-3)},
		{raw: "1.5", want: 1.5},
		{raw: "1e3", want: 1000.0},
		{raw: "null", want: nil},
		{raw: "NULL", want: nil},
		{raw: "Ana", want: "Ana"},
		{raw: "", want: ""},
		{raw: "0x1F", want: "0x1F"},
		{raw: "Inf", want: "Inf"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, parseBindValue(tt.raw))
		})
	}
}

func TestQuery_Direct(t *testing.T) {
	fake := enginetest.New()
	useFake(t, fake)

	out, err := runCLI(t, "query", "SELECT 1")

	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT 1"}, fake.Queries)
	assert.Empty(t, fake.Bound)
	assert.Contains(t, out, "(1 row(s))")
}

func TestQuery_Bind(t *testing.T) {
	fake := enginetest.New()
	useFake(t, fake)

	sql := "SELECT * FROM users WHERE id = $1 AND name = $2 AND deleted_at = $3"
	_, err := runCLI(t, "query", sql, "--bind", "7", "-b", "Ana", "-b", "null")

	require.NoError(t, err)
	require.Len(t, fake.Bound, 1)
	assert.Equal(t, sql, fake.Bound[0].SQL)
	assert.Equal(t, []interface{}{int64(7), "Ana", nil}, engine.Values(fake.Bound[0].Params))
	assert.Equal(t, "iss", engine.TypeString(fake.Bound[0].Params))
	assert.Empty(t, fake.Queries)
}

func TestQuery_AffectedRows(t *testing.T) {
	fake := enginetest.New()
	fake.Results["DELETE FROM users"] = &engine.ResultSet{RowsAffected: 3}
	useFake(t, fake)

	out, err := runCLI(t, "query", "DELETE FROM users")

	require.NoError(t, err)
	assert.Contains(t, out, "3 row(s) affected")
}

func TestQuery_Failure(t *testing.T) {
	fake := enginetest.New()
	fake.Failures["SELECT nope"] = errors.New("column nope does not exist")
	useFake(t, fake)

	_, err := runCLI(t, "query", "SELECT nope")

	assert.ErrorContains(t, err, "query failed")
	assert.ErrorContains(t, err, "column nope does not exist")
}

func TestQuery_RequiresOneArgument(t *testing.T) {
	useFake(t, enginetest.New())

	_, err := runCLI(t, "query")

	assert.Error(t, err)
}
