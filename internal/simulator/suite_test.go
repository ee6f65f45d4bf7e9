package simulator

import (
	"testing"

	"github.com/haatos/runbatch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSuite(t *testing.T) {
	t.Run("success - embedded targets are loaded", func(t *testing.T) {
		// act
		s, err := LoadSuite("")

		// assert
		require.NoError(t, err)
		target, err := s.Lookup("petstore", "v2")
		assert.NoError(t, err)
		assert.Equal(t, []string{"list pets", "get pet by id", "create pet"}, target.TestNames())
	})
}

func TestParseSuite(t *testing.T) {
	t.Run("failure - duplicate target", func(t *testing.T) {
		// arrange
		b := []byte(`
targets:
  - name: a
    tests: [{name: x}]
  - name: a
    tests: [{name: y}]
`)

		// act
		_, err := ParseSuite(b)

		// assert
		assert.Error(t, err)
	})
	t.Run("failure - target without tests", func(t *testing.T) {
		// act
		_, err := ParseSuite([]byte("targets:\n  - name: a\n"))

		// assert
		assert.Error(t, err)
	})
	t.Run("failure - malformed yaml", func(t *testing.T) {
		// act
		_, err := ParseSuite([]byte("targets: ["))

		// assert
		assert.Error(t, err)
	})
}

func TestSuite_Lookup(t *testing.T) {
	s, err := LoadSuite("")
	require.NoError(t, err)

	t.Run("failure - unknown target", func(t *testing.T) {
		// act
		_, err := s.Lookup("nope", "v1")

		// assert
		var ute *UnknownTargetError
		assert.ErrorAs(t, err, &ute)
		assert.Equal(t, "nope", ute.Target)
	})
	t.Run("failure - unknown version", func(t *testing.T) {
		// act
		_, err := s.Lookup("weather", "v9")

		// assert
		var ute *UnknownTargetError
		assert.ErrorAs(t, err, &ute)
		assert.Equal(t, "v9", ute.Version)
	})
}

func TestTestDef_StatusFor(t *testing.T) {
	t.Run("success - passing test always passes", func(t *testing.T) {
		td := TestDef{Name: "a"}
		assert.Equal(t, store.TestPassed, td.StatusFor(1))
	})
	t.Run("success - flaky test passes on retry", func(t *testing.T) {
		td := TestDef{Name: "a", Outcome: "fail", Flaky: true}
		assert.Equal(t, store.TestFailed, td.StatusFor(1))
		assert.Equal(t, store.TestPassed, td.StatusFor(2))
	})
	t.Run("success - failing test keeps failing", func(t *testing.T) {
		td := TestDef{Name: "a", Outcome: "fail"}
		assert.Equal(t, store.TestFailed, td.StatusFor(3))
	})
}
