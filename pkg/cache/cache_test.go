package cache

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/cachew-ci/cachew/pkg/common"
	"github.com/cachew-ci/cachew/pkg/model"
	"github.com/cachew-ci/cachew/pkg/runenv"
)

// shared test doubles

type fakeState struct {
	values  map[string]string
	outputs map[string]string
}

func newFakeState(values map[string]string) *fakeState {
	if values == nil {
		values = map[string]string{}
	}
	return &fakeState{values: values, outputs: map[string]string{}}
}

func (s *fakeState) Get(name string) string { return s.values[name] }

func (s *fakeState) Save(name, value string) error {
	s.values[name] = value
	return nil
}

func (s *fakeState) SetOutput(name, value string) error {
	s.outputs[name] = value
	return nil
}

type fakeTransferer struct {
	saveCalls    int
	saveID       int64
	saveErr      error
	savePanic    bool
	savedKey     string
	savedPaths   []string
	restoreCalls int
	restoredKey  string
	restoreErr   error
}

func (f *fakeTransferer) SaveCache(_ context.Context, paths []string, key string, _ model.Options) (int64, error) {
	f.saveCalls++
	f.savedKey = key
	f.savedPaths = paths
	if f.savePanic {
		panic("file already closed")
	}
	if f.saveErr != nil {
		return NoCacheID, f.saveErr
	}
	return f.saveID, nil
}

func (f *fakeTransferer) RestoreCache(_ context.Context, _ []string, _ string, _ []string, _ model.Options) (string, error) {
	f.restoreCalls++
	if f.restoreErr != nil {
		return "", f.restoreErr
	}
	return f.restoredKey, nil
}

type fakeEntryManager struct {
	deleteCalls int
	deleteErr   error
	deletedKey  string
	deletedRef  string
}

func (f *fakeEntryManager) DeleteEntry(_ context.Context, _, _, key, ref string) error {
	f.deleteCalls++
	f.deletedKey = key
	f.deletedRef = ref
	return f.deleteErr
}

func testEnv() *runenv.Environment {
	return &runenv.Environment{
		EventName: "push",
		Ref:       "refs/heads/main",
		Owner:     "octo",
		Repo:      "widgets",
		APIURL:    "https://api.github.com",
		CacheURL:  "http://127.0.0.1:12345/",
		Token:     "ghp_test",
	}
}

func testContext() (context.Context, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return common.WithLogger(context.Background(), logger), hook
}

func hasLogEntry(hook *test.Hook, level logrus.Level, substr string) bool {
	for _, entry := range hook.AllEntries() {
		if entry.Level == level && strings.Contains(entry.Message, substr) {
			return true
		}
	}
	return false
}
