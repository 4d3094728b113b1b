package reconcile

import (
	"testing"

	"metarecon/testutil"
)

func TestEngineDoesNotReachIO(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.UnderAny(
		"metarecon/internal/blob",
		"metarecon/internal/document",
		"metarecon/internal/ledger",
		"metarecon/internal/sink",
		"metarecon/internal/infra",
		"net/http",
		"os",
	), "reconcile operates on in-memory collections")
}

func TestEngineDependencies(t *testing.T) {
	if testing.Short() {
		t.Skip("shells out to go list")
	}
	testutil.AssertNoTransitiveDependency(t, ".", testutil.UnderAny(
		"github.com/aws",
		"github.com/jackc/pgx/v5",
		"modernc.org/sqlite",
		"github.com/labstack/echo/v4",
		"github.com/spf13/viper",
	), "engine stays independent of drivers and transport")
}
