package module

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetModelFromDataFilesUsesDefaultKey(t *testing.T) {
	c := &Config{DataFiles: map[string]string{"model.pb": "/data/model.pb"}}
	c.SetModelFromDataFiles("")

	require.NotNil(t, c.MLModel)
	require.Equal(t, "/data/model.pb", c.MLModel.Path)
	require.Equal(t, "alloc", c.MLModel.AllocFuncName)
	require.Equal(t, "infer_from_ptrs", c.MLModel.InferFuncName)
}

func TestSetModelFromDataFilesHonorsExplicitKey(t *testing.T) {
	c := &Config{DataFiles: map[string]string{"custom.pb": "/data/custom.pb"}}
	c.SetModelFromDataFiles("custom.pb")

	require.NotNil(t, c.MLModel)
	require.Equal(t, "/data/custom.pb", c.MLModel.Path)
}

func TestSetModelFromDataFilesNoMatchLeavesNil(t *testing.T) {
	c := &Config{DataFiles: map[string]string{}}
	c.SetModelFromDataFiles("")

	require.Nil(t, c.MLModel)
}
