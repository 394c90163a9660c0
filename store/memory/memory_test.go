package memory

import (
	"testing"

	"github.com/MrEthical07/authhero/store"
	"github.com/MrEthical07/authhero/store/storetest"
)

func TestMemoryStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}
