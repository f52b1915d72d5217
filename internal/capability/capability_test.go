package capability

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestReport(t *testing.T) {
	c := NewChecker()
	c.Register("ok", "always there", func(context.Context) error { return nil })
	c.Register("gone", "never there", func(context.Context) error { return errors.New("not installed") })

	report := c.Report(context.Background())
	require.Len(t, report, 2)

	assert.Equal(t, "ok", report[0].Name)
	assert.True(t, report[0].Available)
	assert.Equal(t, "gone", report[1].Name)
	assert.False(t, report[1].Available)
	assert.Equal(t, "not installed", report[1].Detail)
}

func TestRegisterReplaces(t *testing.T) {
	c := NewChecker()
	c.Register("x", "first", func(context.Context) error { return errors.New("no") })
	c.Register("x", "second", func(context.Context) error { return nil })

	report := c.Report(context.Background())
	require.Len(t, report, 1)
	assert.Equal(t, "second", report[0].Description)
	assert.True(t, report[0].Available)
}

func TestRequire(t *testing.T) {
	c := NewChecker()
	c.Register("ok", "", func(context.Context) error { return nil })
	c.Register("gone", "", func(context.Context) error { return errors.New("missing") })

	assert.NoError(t, c.Require(context.Background(), "ok"))
	assert.ErrorIs(t, c.Require(context.Background(), "gone"), ErrMissing)
	assert.ErrorIs(t, c.Require(context.Background(), "unknown"), ErrMissing)
}

func TestDirCheck(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	ctx := context.Background()
	assert.NoError(t, DirCheck(dir)(ctx))
	assert.Error(t, DirCheck(file)(ctx))
	assert.Error(t, DirCheck(filepath.Join(dir, "missing"))(ctx))
	assert.Error(t, DirCheck("")(ctx))
}

func TestKeyringCheck(t *testing.T) {
	keyring.MockInit()
	assert.NoError(t, KeyringCheck("alertmail-test")(context.Background()))

	keyring.MockInitWithError(errors.New("no secret service"))
	t.Cleanup(keyring.MockInit)
	assert.Error(t, KeyringCheck("alertmail-test")(context.Background()))
}
