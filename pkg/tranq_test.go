package tranq_test

import (
	"testing"

	tranq "github.com/tranq-io/tranq/pkg"
)

func TestVersion(t *testing.T) {
	version := tranq.Version()
	if version == "" {
		t.Error("Version() should return a non-empty string")
	}
}
