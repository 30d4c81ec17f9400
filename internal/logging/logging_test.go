package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/reactorhttpd/reactorhttpd/internal/logsink"
)

func TestLoggerEntriesReachLogFile(t *testing.T) {
	dir := t.TempDir()
	sink, err := logsink.New(logsink.Config{Level: logsink.Debug, Dir: dir, Suffix: ".log"})
	require.NoError(t, err)
	defer sink.Close()

	log := New(sink, logrus.DebugLevel)
	log.WithField("fd", 7).Info("client connected")
	sink.Flush()

	name := filepath.Join(dir, time.Now().Format("2006_01_02")+".log")
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	require.Contains(t, string(data), "client connected")
	require.Contains(t, string(data), "fd=7")
}

func TestLevelFromSinkMapping(t *testing.T) {
	require.Equal(t, logrus.DebugLevel, LevelFromSink(logsink.Debug))
	require.Equal(t, logrus.InfoLevel, LevelFromSink(logsink.Info))
	require.Equal(t, logrus.WarnLevel, LevelFromSink(logsink.Warn))
	require.Equal(t, logrus.ErrorLevel, LevelFromSink(logsink.Error))
}
