package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/vigil/app/store"
)

func Test_makeHostName(t *testing.T) {
	opts.Notify.HostName = "test"
	assert.Equal(t, "test", makeHostName())

	opts.Notify.HostName = ""
	exp, err := os.Hostname()
	require.NoError(t, err)
	assert.Equal(t, exp, makeHostName())
}

func Test_makeNotifier(t *testing.T) {
	opts.Notify.EnabledCompletion, opts.Notify.EnabledExpiry = false, false
	opts.Notify.From = ""
	opts.Notify.To = []string{"test@example.com"}
	assert.Nil(t, makeNotifier())

	opts.Notify.EnabledCompletion = true
	notif := makeNotifier()
	require.NotNil(t, notif)

	opts.Notify.EnabledCompletion = false
	opts.Notify.EnabledExpiry = true
	notif = makeNotifier()
	require.NotNil(t, notif)
}

func Test_makeStore(t *testing.T) {
	opts.Store.Engine = "file"
	opts.Store.Path = filepath.Join(t.TempDir(), "state.json")
	st, err := makeStore()
	require.NoError(t, err)
	assert.IsType(t, &store.FileStore{}, st)
	require.NoError(t, st.Close())

	opts.Store.Engine = "sqlite"
	opts.Store.Path = filepath.Join(t.TempDir(), "state.db")
	st, err = makeStore()
	require.NoError(t, err)
	assert.IsType(t, &store.SQLiteStore{}, st)
	require.NoError(t, st.Close())
}

func Test_applyConfigFile(t *testing.T) {
	conf := filepath.Join(t.TempDir(), "vigil.yml")
	data := `
backend: http://redactor.example.com:9090
poll_interval: 5s
store:
  engine: sqlite
  path: /tmp/vigil.db
web:
  address: localhost:9999
resume:
  concurrency: 8
  attempts: 5
`
	require.NoError(t, os.WriteFile(conf, []byte(data), 0o600))

	opts.Backend = "http://localhost:8080"
	opts.Interval = 2 * time.Second
	opts.Store.Engine = "file"
	opts.Store.Path = "vigil-state.json"
	opts.Web.Address = "localhost:8880"
	opts.Resume.Concurrency = 4
	opts.Resume.Attempts = 3

	require.NoError(t, applyConfigFile(conf))
	assert.Equal(t, "http://redactor.example.com:9090", opts.Backend)
	assert.Equal(t, 5*time.Second, opts.Interval)
	assert.Equal(t, "sqlite", opts.Store.Engine)
	assert.Equal(t, "/tmp/vigil.db", opts.Store.Path)
	assert.Equal(t, "localhost:9999", opts.Web.Address)
	assert.Equal(t, 8, opts.Resume.Concurrency)
	assert.Equal(t, 5, opts.Resume.Attempts)
}

func Test_applyConfigFilePartial(t *testing.T) {
	conf := filepath.Join(t.TempDir(), "vigil.yml")
	require.NoError(t, os.WriteFile(conf, []byte("backend: http://redactor.example.com:9090"), 0o600))

	opts.Backend = "http://localhost:8080"
	opts.Interval = 2 * time.Second
	opts.Store.Engine = "sqlite"
	opts.Store.Path = "/tmp/keep-me.db"

	require.NoError(t, applyConfigFile(conf))
	assert.Equal(t, "http://redactor.example.com:9090", opts.Backend, "value set in the file wins")
	assert.Equal(t, 2*time.Second, opts.Interval, "settings the file leaves out keep their flag values")
	assert.Equal(t, "sqlite", opts.Store.Engine)
	assert.Equal(t, "/tmp/keep-me.db", opts.Store.Path)
}

func Test_applyConfigFileMissing(t *testing.T) {
	err := applyConfigFile(filepath.Join(t.TempDir(), "no-such.yml"))
	require.Error(t, err)
}

func Test_setupLogsWithLogsDisabled(t *testing.T) {
	opts.Log.Enabled = false
	assert.Equal(t, os.Stdout, setupLogs())
}

func Test_setupLogsToFile(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	opts.Log.Enabled = true
	opts.Log.Filename = tmpfile.Name()
	opts.Log.MaxSize = 100
	opts.Log.MaxBackups = 7
	opts.Log.MaxAge = 0
	opts.Log.EnabledCompress = false

	out := setupLogs()
	assert.IsType(t, &lumberjack.Logger{}, out)

	logger := out.(*lumberjack.Logger)
	assert.Equal(t, tmpfile.Name(), logger.Filename)
	assert.Equal(t, 100, logger.MaxSize)
	assert.Equal(t, 7, logger.MaxBackups)
	assert.Equal(t, 0, logger.MaxAge)
	assert.False(t, logger.Compress)
}
