package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/offcache"
)

func TestLoggerMapsErrorKey(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.InfoLevel)
	l := New(base)

	l.Debug("hidden", nil)
	l.Error("install aborted", offcache.Fields{"version": "v2", "err": errors.New("404")})

	if len(hook.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(hook.Entries))
	}
	e := hook.LastEntry()
	if e.Level != logrus.ErrorLevel || e.Message != "install aborted" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.Data["component"] != "offcache" || e.Data["version"] != "v2" {
		t.Fatalf("data = %v", e.Data)
	}
	if err, ok := e.Data[logrus.ErrorKey].(error); !ok || err.Error() != "404" {
		t.Fatalf("error field = %v", e.Data[logrus.ErrorKey])
	}
}
