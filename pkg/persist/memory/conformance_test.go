package memory_test

import (
	"testing"

	"github.com/nexus-project/nexus/pkg/persist"
	"github.com/nexus-project/nexus/pkg/persist/memory"
	"github.com/nexus-project/nexus/pkg/persist/persisttest"
)

func TestConformance(t *testing.T) {
	persisttest.RunConformanceSuite(t, func(t *testing.T) persist.Store {
		return memory.New()
	})
}
