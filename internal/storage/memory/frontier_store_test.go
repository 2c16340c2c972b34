package memory

import (
	"testing"

	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	"github.com/JakeFAU/frontier-crawler/internal/frontier/frontiertest"
)

func TestFrontierStore(t *testing.T) {
	t.Parallel()

	frontiertest.Run(t, func(*testing.T) frontier.Store {
		return NewFrontierStore()
	})
}
