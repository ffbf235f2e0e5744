package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/dbackup/dbackup/internal/domain"
)

func TestStore(t *testing.T) {
	Convey("Given an in-memory store", t, func() {
		s, err := OpenInMemory()
		So(err, ShouldBeNil)
		defer s.Close()

		Convey("Job records", func() {
			older := &domain.Job{
				ID:        uuid.NewString(),
				Name:      "nightly-users",
				Schedule:  "0 3 * * *",
				Enabled:   true,
				CreatedAt: time.Now().Add(-time.Hour),
			}
			newer := &domain.Job{
				ID:        uuid.NewString(),
				Name:      "hourly-orders",
				Schedule:  "0 * * * *",
				Enabled:   false,
				CreatedAt: time.Now(),
			}
			So(s.SaveJob(older), ShouldBeNil)
			So(s.SaveJob(newer), ShouldBeNil)

			Convey("Get returns the saved job", func() {
				got, err := s.GetJob(older.ID)
				So(err, ShouldBeNil)
				So(got.Name, ShouldEqual, "nightly-users")
			})

			Convey("List orders by creation date descending", func() {
				jobs, err := s.ListJobs()
				So(err, ShouldBeNil)
				So(jobs, ShouldHaveLength, 2)
				So(jobs[0].Name, ShouldEqual, "hourly-orders")
				So(jobs[1].Name, ShouldEqual, "nightly-users")
			})

			Convey("EnabledJobs filters disabled jobs", func() {
				jobs, err := s.EnabledJobs()
				So(err, ShouldBeNil)
				So(jobs, ShouldHaveLength, 1)
				So(jobs[0].Name, ShouldEqual, "nightly-users")
			})

			Convey("Delete removes the job", func() {
				So(s.DeleteJob(older.ID), ShouldBeNil)
				_, err := s.GetJob(older.ID)
				So(err, ShouldEqual, domain.ErrNotFound)
			})
		})

		Convey("Execution reconciliation", func() {
			stale := &domain.Execution{
				ID:        uuid.NewString(),
				Type:      domain.ExecutionBackup,
				Status:    domain.StatusRunning,
				StartedAt: time.Now().Add(-12 * time.Hour),
			}
			fresh := &domain.Execution{
				ID:        uuid.NewString(),
				Type:      domain.ExecutionBackup,
				Status:    domain.StatusRunning,
				StartedAt: time.Now().Add(-time.Minute),
			}
			done := &domain.Execution{
				ID:        uuid.NewString(),
				Type:      domain.ExecutionRestore,
				Status:    domain.StatusSuccess,
				StartedAt: time.Now().Add(-24 * time.Hour),
			}
			So(s.SaveExecution(stale), ShouldBeNil)
			So(s.SaveExecution(fresh), ShouldBeNil)
			So(s.SaveExecution(done), ShouldBeNil)

			n, err := s.ReconcileStaleExecutions(6*time.Hour, time.Now())
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)

			got, err := s.GetExecution(stale.ID)
			So(err, ShouldBeNil)
			So(got.Status, ShouldEqual, domain.StatusFailed)
			So(got.Error, ShouldContainSubstring, "abandoned")
			So(got.EndedAt, ShouldNotBeNil)

			stillRunning, err := s.GetExecution(fresh.ID)
			So(err, ShouldBeNil)
			So(stillRunning.Status, ShouldEqual, domain.StatusRunning)

			untouched, err := s.GetExecution(done.ID)
			So(err, ShouldBeNil)
			So(untouched.Status, ShouldEqual, domain.StatusSuccess)
		})

		Convey("API key records keep their hash across a round trip", func() {
			key := &domain.APIKey{
				ID:            uuid.NewString(),
				Name:          "ci",
				DisplayPrefix: "dbackup_abcd",
				Hash:          "deadbeef",
				Enabled:       true,
				CreatedAt:     time.Now(),
			}
			So(s.SaveAPIKey(key), ShouldBeNil)

			got, err := s.FindAPIKeyByHash("deadbeef")
			So(err, ShouldBeNil)
			So(got.ID, ShouldEqual, key.ID)
			So(got.Hash, ShouldEqual, "deadbeef")

			_, err = s.FindAPIKeyByHash("unknown")
			So(err, ShouldEqual, domain.ErrNotFound)
		})

		Convey("Adapter configs and encryption profiles round trip", func() {
			cfg := &domain.AdapterConfig{
				ID:        uuid.NewString(),
				Name:      "prod-pg",
				Category:  domain.CategoryDatabase,
				AdapterID: "postgres",
				Settings:  domain.Settings{"host": "db1", "port": "5432"},
				CreatedAt: time.Now(),
			}
			So(s.SaveAdapterConfig(cfg), ShouldBeNil)

			got, err := s.GetAdapterConfig(cfg.ID)
			So(err, ShouldBeNil)
			So(got.Settings["host"], ShouldEqual, "db1")

			profile := &domain.EncryptionProfile{
				ID:        uuid.NewString(),
				Name:      "default",
				MasterKey: "00112233",
				CreatedAt: time.Now(),
			}
			So(s.SaveEncryptionProfile(profile), ShouldBeNil)

			profiles, err := s.ListEncryptionProfiles()
			So(err, ShouldBeNil)
			So(profiles, ShouldHaveLength, 1)
		})
	})
}
