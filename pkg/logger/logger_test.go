package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("When Init is called", func() {
			So(Init(), ShouldBeNil)

			Convey("Then Get returns a usable logger", func() {
				l := Get()
				So(l, ShouldNotBeNil)
				So(func() { l.Info(context.Background(), "hello", String("k", "v")) }, ShouldNotPanic)
				So(Sync(), ShouldBeNil)
			})
		})

		Convey("When InitWithWriter is given a nil writer", func() {
			err := InitWithWriter(nil, false)

			Convey("Then it fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestLoggerStructuredOutput(t *testing.T) {
	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(InitWithWriter(&buf, true), ShouldBeNil)
		So(SetLevelString("debug"), ShouldBeNil)
		defer func() { _ = SetLevelString("info") }()

		Convey("When logging with a trace id in the context", func() {
			ctx := ContextWithTraceID(context.Background(), "trace-42")
			Named("selector").Info(ctx, "decision", String("outcome", "created"), Error(errors.New("boom")))

			Convey("Then the record carries trace_id, component and fields", func() {
				var rec map[string]any
				So(json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec), ShouldBeNil)
				So(rec["msg"], ShouldEqual, "decision")
				So(rec["trace_id"], ShouldEqual, "trace-42")
				So(rec["component"], ShouldEqual, "selector")
				So(rec["outcome"], ShouldEqual, "created")
				So(rec["error"], ShouldEqual, "boom")
				So(rec["source"], ShouldContainSubstring, "logger_test.go")
			})
		})

		Convey("When logging below the configured level", func() {
			So(SetLevelString("error"), ShouldBeNil)
			Get().Debug(context.Background(), "hidden")

			Convey("Then nothing is written", func() {
				So(buf.Len(), ShouldEqual, 0)
			})
		})

		Convey("When using With", func() {
			Get().With(String("user_id", "u1")).Warn(context.Background(), "careful")

			Convey("Then the bound field is present", func() {
				So(strings.Contains(buf.String(), `"user_id":"u1"`), ShouldBeTrue)
			})
		})
	})
}

func TestSetLevelString(t *testing.T) {
	Convey("Given level strings", t, func() {
		for _, lvl := range []string{"debug", "INFO", "", "warn", "warning", "error"} {
			So(SetLevelString(lvl), ShouldBeNil)
		}
		So(SetLevelString("verbose"), ShouldNotBeNil)
		_ = SetLevelString("info")
	})
}

func TestTraceID(t *testing.T) {
	Convey("Given contexts with and without a trace id", t, func() {
		So(TraceID(context.Background()), ShouldEqual, "")
		So(TraceID(ContextWithTraceID(context.Background(), "")), ShouldEqual, "")
		So(TraceID(ContextWithTraceID(context.Background(), "t1")), ShouldEqual, "t1")
	})
}
