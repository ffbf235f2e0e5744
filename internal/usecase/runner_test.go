package usecase

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/dbackup/dbackup/internal/adapter"
	"github.com/dbackup/dbackup/internal/domain"
	"github.com/dbackup/dbackup/internal/infrastructure/logger"
	"github.com/dbackup/dbackup/internal/store"
)

const fakeDumpMagic = "FAKEDUMP"

// fakeDatabase scripts a database adapter for pipeline tests.
type fakeDatabase struct {
	mu         sync.Mutex
	version    string
	dumpErr    error
	restoreErr error
	restored   []string
}

func (f *fakeDatabase) ID() string                    { return "fakedb" }
func (f *fakeDatabase) FileExt() string               { return ".dump" }
func (f *fakeDatabase) Validate(domain.Settings) error { return nil }

func (f *fakeDatabase) Test(context.Context, domain.Settings) (domain.TestResult, error) {
	return domain.TestResult{Success: true, Version: f.version}, nil
}

func (f *fakeDatabase) PrepareRestore(context.Context, domain.Settings) (bool, error) {
	return true, nil
}

func (f *fakeDatabase) Dump(_ context.Context, _ domain.Settings, destPath string) (domain.DumpResult, error) {
	if f.dumpErr != nil {
		return domain.DumpResult{}, f.dumpErr
	}
	content := fakeDumpMagic + " contents of the database"
	if err := os.WriteFile(destPath, []byte(content), 0600); err != nil {
		return domain.DumpResult{}, err
	}
	return domain.DumpResult{Success: true, Logs: []string{"dumped 1 table"}}, nil
}

func (f *fakeDatabase) Restore(_ context.Context, _ domain.Settings, sourcePath string, opts domain.RestoreOptions) (domain.RestoreResult, error) {
	if f.restoreErr != nil {
		return domain.RestoreResult{Logs: []string{f.restoreErr.Error()}}, f.restoreErr
	}
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return domain.RestoreResult{}, err
	}
	if !strings.HasPrefix(string(data), fakeDumpMagic) {
		return domain.RestoreResult{}, errors.New("not a fake dump")
	}
	f.mu.Lock()
	f.restored = append(f.restored, opts.TargetDatabase)
	f.mu.Unlock()
	return domain.RestoreResult{Success: true}, nil
}

func (f *fakeDatabase) LooksValid(r io.Reader) bool {
	head, err := bufio.NewReader(r).Peek(len(fakeDumpMagic))
	return err == nil && string(head) == fakeDumpMagic
}

func (f *fakeDatabase) restoredTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.restored...)
}

// fakeStorage keeps uploaded objects in memory.
type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (f *fakeStorage) ID() string                     { return "fakestorage" }
func (f *fakeStorage) Validate(domain.Settings) error { return nil }

func (f *fakeStorage) Upload(_ context.Context, _ domain.Settings, remotePath, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[remotePath] = data
	return nil
}

func (f *fakeStorage) Download(_ context.Context, _ domain.Settings, remotePath, localPath string) error {
	f.mu.Lock()
	data, ok := f.objects[remotePath]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("object %s does not exist", remotePath)
	}
	return os.WriteFile(localPath, data, 0600)
}

func (f *fakeStorage) Read(_ context.Context, _ domain.Settings, remotePath string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[remotePath]
	if !ok {
		return nil, nil
	}
	return data, nil
}

func (f *fakeStorage) List(_ context.Context, _ domain.Settings, prefix string) ([]domain.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var entries []domain.Entry
	for name, data := range f.objects {
		if strings.HasPrefix(name, prefix) {
			entries = append(entries, domain.Entry{Name: name, Size: int64(len(data))})
		}
	}
	return entries, nil
}

func (f *fakeStorage) Delete(_ context.Context, _ domain.Settings, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[remotePath]; !ok {
		return fmt.Errorf("object %s does not exist", remotePath)
	}
	delete(f.objects, remotePath)
	return nil
}

func (f *fakeStorage) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.objects {
		names = append(names, name)
	}
	return names
}

func (f *fakeStorage) artifactCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for name := range f.objects {
		if !strings.HasSuffix(name, sidecarSuffix) {
			n++
		}
	}
	return n
}

// fakeNotifier records delivered events.
type fakeNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (f *fakeNotifier) ID() string                     { return "fakenotify" }
func (f *fakeNotifier) Validate(domain.Settings) error { return nil }

func (f *fakeNotifier) Send(_ context.Context, _ domain.Settings, event domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) received() []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Event(nil), f.events...)
}

type pipelineEnv struct {
	store    *store.Store
	db       *fakeDatabase
	storage  *fakeStorage
	notifier *fakeNotifier
	runner   *Runner
	restore  *RestoreService
	tempDir  string
	job      domain.Job
}

func newPipelineEnv(t *testing.T) *pipelineEnv {
	t.Helper()

	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	env := &pipelineEnv{
		store:    st,
		db:       &fakeDatabase{version: "15.0"},
		storage:  newFakeStorage(),
		notifier: &fakeNotifier{},
		tempDir:  t.TempDir(),
	}

	reg := adapter.NewRegistry()
	reg.RegisterDatabase(env.db)
	reg.RegisterStorage(env.storage)
	reg.RegisterNotification(env.notifier)

	log := logger.NewNop()
	queue := NewQueue(2, log)
	env.runner = NewRunner(st, reg, queue, NewRetention(log), log, env.tempDir)
	env.restore = NewRestoreService(st, reg, queue, log, env.tempDir)

	for _, cfg := range []domain.AdapterConfig{
		{ID: "src-1", Name: "prod-db", Category: domain.CategoryDatabase, AdapterID: "fakedb",
			Settings: domain.Settings{"database": "appdb"}},
		{ID: "dst-1", Name: "bucket", Category: domain.CategoryStorage, AdapterID: "fakestorage",
			Settings: domain.Settings{}},
		{ID: "ntf-1", Name: "chat", Category: domain.CategoryNotification, AdapterID: "fakenotify",
			Settings: domain.Settings{}},
	} {
		cfg := cfg
		if err := st.SaveAdapterConfig(&cfg); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.SaveEncryptionProfile(&domain.EncryptionProfile{
		ID:        "prof-1",
		Name:      "default",
		MasterKey: strings.Repeat("ab", 32),
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	env.job = domain.Job{
		ID:                  "job-1",
		Name:                "nightly",
		Schedule:            "0 3 * * *",
		SourceConfigID:      "src-1",
		DestinationConfigID: "dst-1",
		EncryptionProfileID: "prof-1",
		Compression:         domain.CompressionGzip,
		NotificationIDs:     []string{"ntf-1"},
		Enabled:             true,
	}
	return env
}

func (env *pipelineEnv) waitTerminal(t *testing.T, execID string) *domain.Execution {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := env.store.GetExecution(execID)
		if err == nil && exec.Terminal() {
			return exec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("execution %s never reached a terminal status", execID)
	return nil
}

func waitEvents(notifier *fakeNotifier, n int) []domain.Event {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events := notifier.received(); len(events) >= n {
			return events
		}
		time.Sleep(10 * time.Millisecond)
	}
	return notifier.received()
}

func TestRunner(t *testing.T) {
	Convey("Given a backup runner with fake adapters", t, func() {
		env := newPipelineEnv(t)

		Convey("A compressed, encrypted backup completes end to end", func() {
			execID, err := env.runner.Trigger(env.job)
			So(err, ShouldBeNil)

			exec := env.waitTerminal(t, execID)
			So(exec.Status, ShouldEqual, domain.StatusSuccess)
			So(exec.Progress, ShouldEqual, 100)
			So(exec.EndedAt, ShouldNotBeNil)

			Convey("The artifact lands under the job prefix with the full extension chain", func() {
				artifact := exec.Metadata["artifact"]
				So(artifact, ShouldStartWith, "nightly/")
				So(artifact, ShouldEndWith, ".dump.gz.enc")
				So(env.storage.names(), ShouldContain, artifact)
			})

			Convey("The sidecar records version, compression and encryption", func() {
				artifact := exec.Metadata["artifact"]
				data, err := env.storage.Read(context.Background(), nil, domain.SidecarName(artifact))
				So(err, ShouldBeNil)
				So(data, ShouldNotBeNil)

				var sidecar domain.Sidecar
				So(json.Unmarshal(data, &sidecar), ShouldBeNil)
				So(sidecar.EngineVersion, ShouldEqual, "15.0")
				So(sidecar.Compression, ShouldEqual, domain.CompressionGzip)
				So(sidecar.Encryption, ShouldNotBeNil)
				So(sidecar.Encryption.ProfileID, ShouldEqual, "prof-1")
			})

			Convey("The work directory is gone", func() {
				_, err := os.Stat(env.tempDir + "/" + execID)
				So(os.IsNotExist(err), ShouldBeTrue)
			})

			Convey("A success notification went out", func() {
				events := waitEvents(env.notifier, 1)
				So(events, ShouldHaveLength, 1)
				So(events[0].Kind, ShouldEqual, domain.EventBackupSuccess)
				So(events[0].JobName, ShouldEqual, "nightly")
			})
		})

		Convey("A plain backup without compression or encryption keeps the bare extension", func() {
			job := env.job
			job.Compression = domain.CompressionNone
			job.EncryptionProfileID = ""

			execID, err := env.runner.Trigger(job)
			So(err, ShouldBeNil)
			exec := env.waitTerminal(t, execID)

			So(exec.Status, ShouldEqual, domain.StatusSuccess)
			So(exec.Metadata["artifact"], ShouldEndWith, ".dump")
		})

		Convey("A failing dump marks the execution failed and uploads nothing", func() {
			env.db.dumpErr = errors.New("connection reset during dump")

			execID, err := env.runner.Trigger(env.job)
			So(err, ShouldBeNil)
			exec := env.waitTerminal(t, execID)

			So(exec.Status, ShouldEqual, domain.StatusFailed)
			So(exec.Error, ShouldContainSubstring, "dump")
			So(exec.Error, ShouldContainSubstring, "connection reset")
			So(env.storage.names(), ShouldBeEmpty)

			Convey("Temp files are cleaned up regardless", func() {
				_, err := os.Stat(env.tempDir + "/" + execID)
				So(os.IsNotExist(err), ShouldBeTrue)
			})

			Convey("A failure notification went out", func() {
				events := waitEvents(env.notifier, 1)
				So(events, ShouldHaveLength, 1)
				So(events[0].Kind, ShouldEqual, domain.EventBackupFailed)
			})
		})

		Convey("Retention trims old artifacts after a successful upload", func() {
			job := env.job
			job.Retention = domain.RetentionPolicy{Kind: domain.RetentionSimple, KeepCount: 2}

			now := time.Now().UTC()
			for i := 1; i <= 3; i++ {
				name := fmt.Sprintf("nightly/%s.dump.gz.enc",
					now.AddDate(0, 0, -i).Format(artifactTimeLayout))
				env.storage.objects[name] = []byte("old")
				env.storage.objects[domain.SidecarName(name)] = []byte("{}")
			}

			execID, err := env.runner.Trigger(job)
			So(err, ShouldBeNil)
			exec := env.waitTerminal(t, execID)

			So(exec.Status, ShouldEqual, domain.StatusSuccess)
			So(env.storage.artifactCount(), ShouldEqual, 2)
			So(env.storage.names(), ShouldContain, exec.Metadata["artifact"])
		})

		Convey("An unknown source config fails in prepare", func() {
			job := env.job
			job.SourceConfigID = "missing"

			execID, err := env.runner.Trigger(job)
			So(err, ShouldBeNil)
			exec := env.waitTerminal(t, execID)

			So(exec.Status, ShouldEqual, domain.StatusFailed)
			So(exec.Error, ShouldContainSubstring, "prepare")
		})
	})
}
