package log

// TB is the subset of testing.TB the Testing logger needs.
type TB interface {
	Errorf(string, ...interface{})
	Fatalf(string, ...interface{})
	Logf(string, ...interface{})
	Helper()
}

// Testing routes log output into a test. Error messages are logged, not failed, because
// the engine logs recovered cell errors at that level.
type Testing struct {
	TB
	Default
}

func (l *Testing) Debug(m string, s ...interface{}) {
	l.Helper()
	l.Logf("%s", tfmt("DEB ", m, s, l.Tags))
}
func (l *Testing) Info(m string, s ...interface{}) {
	l.Helper()
	l.Logf("%s", tfmt("INF ", m, s, l.Tags))
}
func (l *Testing) Error(m string, s ...interface{}) {
	l.Helper()
	l.Logf("%s", tfmt("ERR ", m, s, l.Tags))
}
func (l *Testing) Crit(m string, s ...interface{}) {
	l.Helper()
	l.Fatalf("%s", tfmt("CRI ", m, s, l.Tags))
}
func (l *Testing) With(tags ...interface{}) Logger {
	return &Testing{l.TB, *l.Default.with(tags)}
}
