package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/FMHsieh/esigate/logging"
)

func TestLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	l := logrus.New()
	l.SetOutput(buf)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	log := logging.NewWith(l)

	for _, test := range []struct {
		log    func()
		suffix string
	}{
		{func() { log.Error("error") }, "msg=error\n"},
		{func() { log.Errorf("errorf: %s", "foo") }, `msg="errorf: foo"` + "\n"},
		{func() { log.Warn("warn") }, "msg=warn\n"},
		{func() { log.Warnf("warnf: %s", "foo") }, `msg="warnf: foo"` + "\n"},
		{func() { log.Info("info") }, "msg=info\n"},
		{func() { log.Infof("infof: %s", "foo") }, `msg="infof: foo"` + "\n"},
		{func() { log.Debug("debug") }, "msg=debug\n"},
		{func() { log.Debugf("debugf: %s", "foo") }, `msg="debugf: foo"` + "\n"},
	} {
		buf.Reset()
		test.log()
		if s := buf.String(); !strings.HasSuffix(s, test.suffix) {
			t.Errorf("want suffix %q, got %q", test.suffix, s)
		}
	}
}

func TestLoggerWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	l := logrus.New()
	l.SetOutput(buf)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	base := logging.NewWith(l)

	withInstance := base.WithFields(map[string]interface{}{"instance": "shop"})
	withInstance.Info("one")
	if s := buf.String(); !strings.Contains(s, "instance=shop") {
		t.Errorf("missing field: %q", s)
	}

	buf.Reset()
	base.Info("two")
	if s := buf.String(); strings.Contains(s, "instance=shop") {
		t.Errorf("fields leaked into the parent logger: %q", s)
	}
}
