package loginstate

import (
	"testing"

	"github.com/campus-carpool/rides-api/internal/adapters/contracttest"
	loginstateport "github.com/campus-carpool/rides-api/internal/ports/out/loginstate"
)

func TestContract_LoginStateStore(t *testing.T) {
	contracttest.RunLoginStateStore(t, func(t *testing.T) (loginstateport.Store, func()) {
		t.Helper()
		return NewStore(), nil
	})
}
