package model

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareSchema(t *testing.T) {
	missing, extra := CompareSchema([]string{"a", "b", "c"}, []string{"c", "d", "a"})
	assert.Equal(t, []string{"b"}, missing)
	assert.Equal(t, []string{"d"}, extra)

	missing, extra = CompareSchema([]string{"a"}, []string{"a"})
	assert.Empty(t, missing)
	assert.Empty(t, extra)
}

func TestLoadErrorUnwraps(t *testing.T) {
	err := error(&LoadError{Artifact: "tabular", Path: "/m/rf.json", Err: fs.ErrNotExist})
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Contains(t, err.Error(), "tabular")
	assert.Contains(t, err.Error(), "/m/rf.json")

	var le *LoadError
	assert.True(t, errors.As(err, &le))
}

func TestSchemaMismatchMessage(t *testing.T) {
	err := &SchemaMismatchError{Missing: []string{"url_length"}, Extra: []string{"bogus"}}
	assert.Equal(t, "feature schema mismatch: missing url_length; unexpected bogus", err.Error())
}
