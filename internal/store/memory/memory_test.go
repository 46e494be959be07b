package memory_test

import (
	"testing"

	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/store"
	"github.com/jensholdgaard/auction-house/internal/store/memory"
	"github.com/jensholdgaard/auction-house/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store {
		return memory.New(clock.NewMock(storetest.Now))
	})
}
