package cache

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/cachew-ci/cachew/pkg/runenv"
)

func TestRestoreIneligibleEnvironment(t *testing.T) {
	ctx, _ := testContext()
	env := testEnv()
	env.CacheURL = ""
	transfer := &fakeTransferer{}

	matched := NewRestorer(env, newFakeState(nil), transfer).Run(ctx, testEntry())

	assert.Empty(t, matched)
	assert.Zero(t, transfer.restoreCalls)
}

func TestRestoreMissingKey(t *testing.T) {
	ctx, hook := testContext()
	entry := testEntry()
	entry.Key = ""
	transfer := &fakeTransferer{}

	matched := NewRestorer(testEnv(), newFakeState(nil), transfer).Run(ctx, entry)

	assert.Empty(t, matched)
	assert.Zero(t, transfer.restoreCalls)
	assert.True(t, hasLogEntry(hook, logrus.WarnLevel, "key is not specified"))
}

func TestRestoreInvalidKey(t *testing.T) {
	ctx, hook := testContext()
	entry := testEntry()
	entry.Key = "a,b"
	transfer := &fakeTransferer{}

	matched := NewRestorer(testEnv(), newFakeState(nil), transfer).Run(ctx, entry)

	assert.Empty(t, matched)
	assert.Zero(t, transfer.restoreCalls)
	assert.True(t, hasLogEntry(hook, logrus.WarnLevel, "cannot contain commas"))
}

func TestRestoreMissRecordsPrimaryKey(t *testing.T) {
	ctx, hook := testContext()
	state := newFakeState(nil)
	transfer := &fakeTransferer{restoredKey: ""}

	matched := NewRestorer(testEnv(), state, transfer).Run(ctx, testEntry())

	assert.Empty(t, matched)
	assert.Equal(t, 1, transfer.restoreCalls)
	// the save phase still needs the key, even after a miss
	assert.Equal(t, "build-abc", state.values[runenv.StateCacheKey])
	assert.Empty(t, state.values[runenv.StateCacheMatched])
	assert.True(t, hasLogEntry(hook, logrus.InfoLevel, "cache not found"))
}

func TestRestoreExactHit(t *testing.T) {
	ctx, hook := testContext()
	state := newFakeState(nil)
	transfer := &fakeTransferer{restoredKey: "build-abc"}

	matched := NewRestorer(testEnv(), state, transfer).Run(ctx, testEntry())

	assert.Equal(t, "build-abc", matched)
	assert.Equal(t, "build-abc", state.values[runenv.StateCacheKey])
	assert.Equal(t, "build-abc", state.values[runenv.StateCacheMatched])
	assert.Equal(t, "true", state.outputs["cache-hit"])
	assert.True(t, hasLogEntry(hook, logrus.InfoLevel, "cache restored from key: build-abc"))
}

func TestRestoreFallbackHit(t *testing.T) {
	ctx, _ := testContext()
	state := newFakeState(nil)
	entry := testEntry()
	entry.RestoreKeys = []string{"build-"}
	transfer := &fakeTransferer{restoredKey: "build-old"}

	matched := NewRestorer(testEnv(), state, transfer).Run(ctx, entry)

	assert.Equal(t, "build-old", matched)
	assert.Equal(t, "build-old", state.values[runenv.StateCacheMatched])
	assert.Equal(t, "false", state.outputs["cache-hit"])
}

func TestRestoreFailureIsContained(t *testing.T) {
	ctx, hook := testContext()
	transfer := &fakeTransferer{restoreErr: errors.New("unexpected EOF")}

	matched := NewRestorer(testEnv(), newFakeState(nil), transfer).Run(ctx, testEntry())

	assert.Empty(t, matched)
	assert.True(t, hasLogEntry(hook, logrus.WarnLevel, "unexpected EOF"))
}
