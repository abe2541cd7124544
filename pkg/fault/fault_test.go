package fault

import (
	"errors"
	"testing"
)

func TestFailureError(t *testing.T) {
	tests := []struct {
		name string
		f    Failure
		want string
	}{
		{
			name: "render with component",
			f:    Failure{Kind: KindRender, Component: "Sidebar", Err: errors.New("nil map")},
			want: "render failure in Sidebar: nil map",
		},
		{
			name: "async before first value",
			f:    Failure{Kind: KindAsync, Phase: PhaseBeforeFirst, Err: errors.New("timeout")},
			want: "async source failure (BeforeFirst): timeout",
		},
		{
			name: "handler with event",
			f:    Failure{Kind: KindHandler, Event: "click", Err: errors.New("boom")},
			want: "handler failure (click): boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	sentinel := errors.New("root cause")
	f := Failure{Kind: KindAsync, Err: sentinel}
	if !errors.Is(f, sentinel) {
		t.Error("errors.Is did not reach the wrapped error")
	}
}

func TestFromPanic(t *testing.T) {
	sentinel := errors.New("already an error")
	if got := FromPanic(sentinel); got != sentinel {
		t.Errorf("FromPanic(error) = %v, want the error itself", got)
	}
	if got := FromPanic("string panic"); got == nil || got.Error() != "panic: string panic" {
		t.Errorf("FromPanic(string) = %v", got)
	}
}
