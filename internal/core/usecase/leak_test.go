package usecase

import (
	"testing"

	"go.uber.org/goleak"
)

// ants starts a package-level default pool on import; its maintenance
// goroutines live for the whole test binary.
var antsDefaultPool = []goleak.Option{
	goleak.IgnoreAnyFunction("github.com/panjf2000/ants/v2.(*poolCommon).purgeStaleWorkers"),
	goleak.IgnoreAnyFunction("github.com/panjf2000/ants/v2.(*poolCommon).ticktock"),
}

func verifyNoLeaks(t *testing.T) {
	t.Helper()
	goleak.VerifyNone(t, antsDefaultPool...)
}
