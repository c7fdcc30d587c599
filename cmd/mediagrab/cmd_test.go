package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediagrab/pkg/config"
	"mediagrab/pkg/models"
)

func TestConfigInitWritesLoadableDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediagrab.yaml")
	configFile = path
	defer func() { configFile = "" }()

	require.NoError(t, runConfigInit(initCmd, nil))

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Millisecond, cfg.Scroll.Interval)
	assert.Equal(t, config.DefaultArchiveName, cfg.Archive.Name)

	assert.Error(t, runConfigInit(initCmd, nil), "an existing file is never overwritten")
}

func TestRunFlagsForwardsOnlyChangedBools(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().BoolVar(&saveAs, "save-as", false, "")
	cmd.Flags().BoolVar(&headless, "headless", true, "")
	cmd.Flags().DurationVar(&stallAfter, "stall-after", 0, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--headless=false", "--stall-after=5s"}))

	flags := runFlags(cmd)
	assert.Equal(t, false, flags["headless"])
	assert.Equal(t, 5*time.Second, flags["stall-after"])
	_, ok := flags["save-as"]
	assert.False(t, ok, "unset bools must not override config")
}

func TestArchiveSubmittedSkipsSecondArchive(t *testing.T) {
	for _, state := range []models.RunState{models.StateZipping, models.StateDelivered, models.StateFailed} {
		assert.True(t, archiveSubmitted(state), state)
	}
	for _, state := range []models.RunState{models.StateIdle, models.StateRunning, models.StateStopped, models.StateStalled} {
		assert.False(t, archiveSubmitted(state), state)
	}
}
