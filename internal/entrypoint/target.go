package entrypoint

import "fmt"

// Kind is the invocation shape of the application object.
type Kind int

const (
	// DirectInstance means the module exposes a ready application object.
	DirectInstance Kind = iota
	// FactoryInvocation means the server must call a factory to build it.
	FactoryInvocation
)

func (k Kind) String() string {
	switch k {
	case FactoryInvocation:
		return "factory"
	default:
		return "instance"
	}
}

// Target names the object the application server should load.
type Target struct {
	Kind   Kind
	Module string
	Symbol string
}

// String renders the target in gunicorn's MODULE:VARIABLE syntax, with a
// call suffix for factories.
func (t Target) String() string {
	if t.Kind == FactoryInvocation {
		return fmt.Sprintf("%s:%s()", t.Module, t.Symbol)
	}
	return fmt.Sprintf("%s:%s", t.Module, t.Symbol)
}
