package usecase

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/dbackup/dbackup/internal/domain"
	"github.com/dbackup/dbackup/internal/stream"
)

// seedArtifact compresses and encrypts a fake dump, places it in the
// fake storage together with its sidecar, and returns the remote path.
func seedArtifact(t *testing.T, env *pipelineEnv, masterKeyHex, profileID string) string {
	t.Helper()

	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.dump")
	if err := os.WriteFile(plain, []byte(fakeDumpMagic+" seeded dump"), 0600); err != nil {
		t.Fatal(err)
	}
	compressed := plain + ".gz"
	if err := stream.CompressFile(plain, compressed, domain.CompressionGzip); err != nil {
		t.Fatal(err)
	}

	masterKey, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	encrypted := compressed + ".enc"
	iv, tag, err := stream.EncryptFile(masterKey, compressed, encrypted)
	if err != nil {
		t.Fatal(err)
	}

	remote := "nightly/" + time.Now().UTC().Format(artifactTimeLayout) + ".dump.gz.enc"
	data, err := os.ReadFile(encrypted)
	if err != nil {
		t.Fatal(err)
	}
	env.storage.objects[remote] = data

	sidecar := domain.Sidecar{
		EngineVersion: "15.0",
		Databases:     []string{"appdb"},
		Compression:   domain.CompressionGzip,
		Encryption: &domain.SidecarEncryption{
			ProfileID: profileID,
			IV:        hex.EncodeToString(iv),
			AuthTag:   hex.EncodeToString(tag),
		},
	}
	meta, err := json.Marshal(sidecar)
	if err != nil {
		t.Fatal(err)
	}
	env.storage.objects[domain.SidecarName(remote)] = meta
	return remote
}

func TestRestoreService(t *testing.T) {
	profileKey := strings.Repeat("ab", 32)

	Convey("Given a restore service with fake adapters", t, func() {
		env := newPipelineEnv(t)

		Convey("A compressed, encrypted artifact restores end to end", func() {
			remote := seedArtifact(t, env, profileKey, "prof-1")

			execID, err := env.restore.Restore(context.Background(), RestoreInput{
				StorageConfigID: "dst-1",
				ArtifactPath:    remote,
				TargetConfigID:  "src-1",
				TargetDatabase:  "appdb_restored",
			})
			So(err, ShouldBeNil)

			exec := env.waitTerminal(t, execID)
			So(exec.Status, ShouldEqual, domain.StatusSuccess)
			So(exec.Type, ShouldEqual, domain.ExecutionRestore)
			So(env.db.restoredTargets(), ShouldResemble, []string{"appdb_restored"})

			Convey("Temp files are gone", func() {
				_, err := os.Stat(env.tempDir + "/" + execID)
				So(os.IsNotExist(err), ShouldBeTrue)
			})
		})

		Convey("A missing target config fails fast without creating an execution", func() {
			_, err := env.restore.Restore(context.Background(), RestoreInput{
				StorageConfigID: "dst-1",
				ArtifactPath:    "nightly/whatever.dump",
				TargetConfigID:  "missing",
			})

			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "target source not found")

			execs, listErr := env.store.ListExecutions()
			So(listErr, ShouldBeNil)
			So(execs, ShouldBeEmpty)
		})

		Convey("A backup from a newer engine is refused", func() {
			remote := seedArtifact(t, env, profileKey, "prof-1")
			env.db.version = "14.2"

			execID, err := env.restore.Restore(context.Background(), RestoreInput{
				StorageConfigID: "dst-1",
				ArtifactPath:    remote,
				TargetConfigID:  "src-1",
			})
			So(err, ShouldBeNil)

			exec := env.waitTerminal(t, execID)
			So(exec.Status, ShouldEqual, domain.StatusFailed)
			So(exec.Error, ShouldContainSubstring, "15.0")
			So(exec.Error, ShouldContainSubstring, "14.2")
			So(env.db.restoredTargets(), ShouldBeEmpty)
		})

		Convey("A backup from an equal or older engine passes the guard", func() {
			remote := seedArtifact(t, env, profileKey, "prof-1")
			env.db.version = "16.1"

			execID, err := env.restore.Restore(context.Background(), RestoreInput{
				StorageConfigID: "dst-1",
				ArtifactPath:    remote,
				TargetConfigID:  "src-1",
			})
			So(err, ShouldBeNil)
			exec := env.waitTerminal(t, execID)
			So(exec.Status, ShouldEqual, domain.StatusSuccess)
		})

		Convey("When the recorded profile is gone, recovery tries the others", func() {
			otherKey := strings.Repeat("cd", 32)
			So(env.store.SaveEncryptionProfile(&domain.EncryptionProfile{
				ID: "prof-2", Name: "rotated", MasterKey: otherKey,
				CreatedAt: time.Now().UTC(),
			}), ShouldBeNil)

			// Encrypted under prof-2's key but the sidecar references a
			// profile that no longer exists.
			remote := seedArtifact(t, env, otherKey, "prof-gone")

			execID, err := env.restore.Restore(context.Background(), RestoreInput{
				StorageConfigID: "dst-1",
				ArtifactPath:    remote,
				TargetConfigID:  "src-1",
				TargetDatabase:  "appdb",
			})
			So(err, ShouldBeNil)

			exec := env.waitTerminal(t, execID)
			So(exec.Status, ShouldEqual, domain.StatusSuccess)
			So(exec.Metadata["recoveredProfileId"], ShouldEqual, "prof-2")
		})

		Convey("When no profile can decrypt the artifact, recovery reports exhaustion", func() {
			strangerKey := strings.Repeat("ef", 32)
			remote := seedArtifact(t, env, strangerKey, "prof-gone")

			execID, err := env.restore.Restore(context.Background(), RestoreInput{
				StorageConfigID: "dst-1",
				ArtifactPath:    remote,
				TargetConfigID:  "src-1",
			})
			So(err, ShouldBeNil)

			exec := env.waitTerminal(t, execID)
			So(exec.Status, ShouldEqual, domain.StatusFailed)
			So(exec.Error, ShouldContainSubstring, domain.ErrKeyRecoveryExhausted.Error())
		})

		Convey("A corrupted artifact fails authentication, not decryption", func() {
			remote := seedArtifact(t, env, profileKey, "prof-1")
			data := env.storage.objects[remote]
			data[len(data)/2] ^= 0xff

			execID, err := env.restore.Restore(context.Background(), RestoreInput{
				StorageConfigID: "dst-1",
				ArtifactPath:    remote,
				TargetConfigID:  "src-1",
			})
			So(err, ShouldBeNil)

			exec := env.waitTerminal(t, execID)
			So(exec.Status, ShouldEqual, domain.StatusFailed)
			So(exec.Error, ShouldContainSubstring, "authentication failed")
			So(env.db.restoredTargets(), ShouldBeEmpty)
		})

		Convey("A permission failure asks for privileged credentials", func() {
			remote := seedArtifact(t, env, profileKey, "prof-1")
			env.db.restoreErr = errors.New("ERROR: must be owner of table accounts")

			execID, err := env.restore.Restore(context.Background(), RestoreInput{
				StorageConfigID: "dst-1",
				ArtifactPath:    remote,
				TargetConfigID:  "src-1",
			})
			So(err, ShouldBeNil)

			exec := env.waitTerminal(t, execID)
			So(exec.Status, ShouldEqual, domain.StatusFailed)
			So(exec.Metadata["privilegedAuthRequired"], ShouldEqual, "true")
			So(exec.Error, ShouldContainSubstring, "privileged authentication required")
		})

		Convey("Selected mappings restore under their target names", func() {
			remote := seedArtifact(t, env, profileKey, "prof-1")

			execID, err := env.restore.Restore(context.Background(), RestoreInput{
				StorageConfigID: "dst-1",
				ArtifactPath:    remote,
				TargetConfigID:  "src-1",
				Mappings: []domain.DatabaseMapping{
					{OriginalName: "appdb", TargetName: "appdb_copy", Selected: true},
					{OriginalName: "ignored", TargetName: "nope", Selected: false},
				},
			})
			So(err, ShouldBeNil)

			exec := env.waitTerminal(t, execID)
			So(exec.Status, ShouldEqual, domain.StatusSuccess)
			So(env.db.restoredTargets(), ShouldResemble, []string{"appdb_copy"})
		})
	})
}

func TestCompareVersions(t *testing.T) {
	Convey("Version comparison orders dotted numerics", t, func() {
		So(compareVersions("15.0", "14.0"), ShouldEqual, 1)
		So(compareVersions("14.0", "15.0"), ShouldEqual, -1)
		So(compareVersions("15.0", "15.0"), ShouldEqual, 0)
		So(compareVersions("15", "15.1"), ShouldEqual, -1)
		So(compareVersions("8.0.36", "8.0.4"), ShouldEqual, 1)
		So(compareVersions("16.4 (Debian)", "16.4"), ShouldEqual, 0)
	})
}
