package testflags

import (
	"flag"
	"testing"
)

// Test enablement flags. Unit and integration tests run by default.
var integrationTest = flag.Bool("integration", true, "Run the integration go tests")
var unitTest = flag.Bool("unit", true, "Run the unit go tests")

// UnitTest will run the test it is called from iff the `-unit` or `-short`
// flag is passed to `go test`. Runs the test in parallel.
func UnitTest(t *testing.T) {
	if !*unitTest && !testing.Short() {
		t.SkipNow()
	}
	t.Parallel()
}

// IntegrationTest will run the test it is called from iff the `-integration`
// flag is passed to `go test`. Runs the test in parallel.
func IntegrationTest(t *testing.T) {
	if !*integrationTest {
		t.SkipNow()
	}
	t.Parallel()
}
