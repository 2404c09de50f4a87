package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpforge/internal/types"
)

func TestExecute_Simple(t *testing.T) {
	e := New()
	res := e.Execute(context.Background(), `
import "fmt"

func main() {
	fmt.Println("hello probe")
}
`, DefaultOptions())
	require.Nil(t, res.Violation)
	assert.True(t, res.Success)
	require.NotEmpty(t, res.Logs)
	assert.Contains(t, res.Logs[0], "hello probe")
}

func TestExecute_CapturesOutput(t *testing.T) {
	e := New()
	res := e.Execute(context.Background(), `
import "fmt"

func main() {
	fmt.Println("line one")
	fmt.Println("line two")
}
`, DefaultOptions())
	require.True(t, res.Success)
	assert.Len(t, res.Logs, 2)
}

func TestExecute_InfiniteLoopTimesOut(t *testing.T) {
	e := New()
	opts := Options{Timeout: 500 * time.Millisecond}

	start := time.Now()
	res := e.Execute(context.Background(), `
func main() {
	for {
	}
}
`, opts)
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	require.NotNil(t, res.Violation)
	assert.Equal(t, types.ViolationTimeout, res.Violation.Kind)
	// Must return within a bounded margin of the timeout, never hang.
	assert.Less(t, elapsed, 3*time.Second)
}

func TestExecute_BlockedImport(t *testing.T) {
	e := New()
	res := e.Execute(context.Background(), `
import "os/exec"

func main() {
	_ = exec.Command("ls")
}
`, DefaultOptions())
	assert.False(t, res.Success)
	require.NotNil(t, res.Violation)
	assert.Equal(t, types.ViolationImport, res.Violation.Kind)
}

func TestExecute_RuntimeErrorIsStructured(t *testing.T) {
	e := New()
	res := e.Execute(context.Background(), `
func main() {
	var xs []int
	_ = xs[3]
}
`, DefaultOptions())
	assert.False(t, res.Success)
	require.NotNil(t, res.Violation)
	assert.Equal(t, types.ViolationPanic, res.Violation.Kind)
}

func TestCheck_SyntaxOnly(t *testing.T) {
	e := New()
	assert.NoError(t, e.Check(`
import "strings"

func probe(s string) string {
	return strings.ToUpper(s)
}
`))
	assert.Error(t, e.Check(`func broken( {`))
}

func TestCheck_RejectsBlockedImports(t *testing.T) {
	e := New()
	err := e.Check(`
import "net/http"

func probe() {}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}
