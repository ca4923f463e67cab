package entrypoint

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubIntrospector struct {
	found bool
	err   error
	panic bool

	module, symbol string
}

func (s *stubIntrospector) HasSymbol(ctx context.Context, module, symbol string) (bool, error) {
	s.module, s.symbol = module, symbol
	if s.panic {
		panic("interpreter exploded")
	}
	return s.found, s.err
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name         string
		introspector *stubIntrospector
		expected     string
		kind         Kind
		fallback     bool
	}{
		{"factory present", &stubIntrospector{found: true}, "app:create_app()", FactoryInvocation, false},
		{"factory absent", &stubIntrospector{found: false}, "app:app", DirectInstance, false},
		{"introspection error", &stubIntrospector{err: errors.New("ModuleNotFoundError: No module named 'app'")}, "app:app", DirectInstance, true},
		{"introspection panic", &stubIntrospector{panic: true}, "app:app", DirectInstance, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewResolver(tt.introspector, nil).Resolve(context.Background(), Spec{})

			if got := res.Target.String(); got != tt.expected {
				t.Errorf("Target = %s, expected %s", got, tt.expected)
			}
			if res.Target.Kind != tt.kind {
				t.Errorf("Kind = %v, expected %v", res.Target.Kind, tt.kind)
			}
			if res.Fallback != tt.fallback {
				t.Errorf("Fallback = %v, expected %v", res.Fallback, tt.fallback)
			}
			if res.Reason == "" {
				t.Error("Reason is empty")
			}
			if tt.introspector.module != "app" || tt.introspector.symbol != "create_app" {
				t.Errorf("asked for %s.%s, expected app.create_app", tt.introspector.module, tt.introspector.symbol)
			}
		})
	}
}

func TestResolveCustomNames(t *testing.T) {
	stub := &stubIntrospector{found: true}
	res := NewResolver(stub, nil).Resolve(context.Background(), Spec{Module: "service.wsgi", Factory: "make_app", Instance: "application"})

	if got := res.Target.String(); got != "service.wsgi:make_app()" {
		t.Errorf("Target = %s, expected service.wsgi:make_app()", got)
	}

	stub.found = false
	res = NewResolver(stub, nil).Resolve(context.Background(), Spec{Module: "service.wsgi", Factory: "make_app", Instance: "application"})
	if got := res.Target.String(); got != "service.wsgi:application" {
		t.Errorf("Target = %s, expected service.wsgi:application", got)
	}
}

func TestResolveWithoutIntrospector(t *testing.T) {
	res := NewResolver(nil, nil).Resolve(context.Background(), Spec{})
	if res.Target.String() != "app:app" || res.Fallback {
		t.Errorf("Resolve() = %+v, expected app:app without fallback", res)
	}
	if !strings.Contains(res.Reason, "disabled") {
		t.Errorf("Reason = %q, expected mention of disabled introspection", res.Reason)
	}
}

func TestKindString(t *testing.T) {
	if FactoryInvocation.String() != "factory" || DirectInstance.String() != "instance" {
		t.Errorf("Kind strings = %s/%s, expected factory/instance", FactoryInvocation, DirectInstance)
	}
}
