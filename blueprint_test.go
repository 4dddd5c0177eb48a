package piper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessorRequiresHandler(t *testing.T) {
	assert.Panics(t, func() {
		Processor("p", nil)
	})
}

func TestContainerRequiresChildren(t *testing.T) {
	assert.Panics(t, func() {
		Container("c", nil)
	})
	assert.Panics(t, func() {
		Container("c", []*Blueprint{})
	})
}

func TestProcessorGeneratesLabelWhenOmitted(t *testing.T) {
	p1 := Processor("", noopHandler)
	p2 := Processor("", noopHandler)
	assert.NotEmpty(t, p1.Label())
	assert.NotEmpty(t, p2.Label())
	assert.NotEqual(t, p1.Label(), p2.Label())
}

func TestBlueprintAsRelabels(t *testing.T) {
	p := Processor("original", noopHandler)
	relabeled := p.As("renamed")
	assert.Equal(t, "original", string(p.Label()))
	assert.Equal(t, "renamed", string(relabeled.Label()))
}

func TestInitBuildsTreeAndDirectory(t *testing.T) {
	leaf := Processor("leaf", noopHandler)
	main := Container("main", []*Blueprint{leaf})

	root, err := main.Init("ctx")
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Equal(t, "main", root.Path().String())
	require.Len(t, root.Children(), 1)
	assert.Equal(t, "main/leaf", root.Children()[0].Path().String())
	assert.Same(t, root, root.Root())
	assert.Same(t, root, root.Children()[0].Root())
}

func TestNewEngineFromOptionsRecognizesBatchSize(t *testing.T) {
	e, err := NewEngineFromOptions(map[string]any{"batch_size": 50})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 50, e.batchSize)
}

func TestNewEngineFromOptionsRejectsUnknownKey(t *testing.T) {
	_, err := NewEngineFromOptions(map[string]any{"bogus_option": 1})
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestEngineDefaults(t *testing.T) {
	e := NewEngine()
	assert.Equal(t, DefaultBatchSize, e.batchSize)
	assert.NotNil(t, e.queueFactory)
	assert.NotNil(t, e.logger)
}

func TestWithDefaultBatchSizeOverridesDefault(t *testing.T) {
	e := NewEngine(WithDefaultBatchSize(7))
	assert.Equal(t, 7, e.batchSize)
}

func noopHandler(inst *Instance, batch []Item, _ ...any) error {
	return nil
}
