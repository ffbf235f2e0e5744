package logger

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLogger(t *testing.T) {
	Convey("Given the Logger package", t, func() {
		Convey("When creating a logger with console output only", func() {
			log, err := New("info", "")

			Convey("It should create a logger successfully", func() {
				So(err, ShouldBeNil)
				So(log, ShouldNotBeNil)
				So(func() { log.Info("test log") }, ShouldNotPanic)
			})
		})

		Convey("When creating a logger with a valid log file", func() {
			tempDir, err := os.MkdirTemp("", "logger_test")
			So(err, ShouldBeNil)
			defer os.RemoveAll(tempDir)

			logFile := filepath.Join(tempDir, "test.log")
			log, err := New("debug", logFile)

			Convey("It should create the logger and the log file", func() {
				So(err, ShouldBeNil)
				So(log, ShouldNotBeNil)

				log.Debug("test debug log")
				log.Sync()

				_, err := os.Stat(logFile)
				So(err, ShouldBeNil)
				log.Close()
			})
		})

		Convey("When creating a logger with an invalid log level", func() {
			log, err := New("invalid", "")

			Convey("It should default to Info level", func() {
				So(err, ShouldBeNil)
				So(log, ShouldNotBeNil)
				So(func() { log.Info("test info log") }, ShouldNotPanic)
			})
		})

		Convey("When creating a logger with an invalid log file path", func() {
			log, err := New("info", "/invalid/path/test.log")

			Convey("It should return an error", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "failed to create log directory")
				So(log, ShouldBeNil)
			})
		})

		Convey("When deriving a named child logger", func() {
			log, err := New("info", "")
			So(err, ShouldBeNil)

			child := log.Named("scheduler")

			Convey("It should log without panicking", func() {
				So(child, ShouldNotBeNil)
				So(func() { child.Infof("component started") }, ShouldNotPanic)
			})
		})

		Convey("When using the nop logger", func() {
			log := NewNop()

			Convey("It should discard output silently", func() {
				So(func() { log.Errorf("dropped: %v", "x") }, ShouldNotPanic)
				So(func() { log.Close() }, ShouldNotPanic)
			})
		})
	})
}
