package source

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{name: "tagged transient", err: Transient(errors.New("x")), want: ClassTransient},
		{name: "tagged permanent", err: Permanent(errors.New("x")), want: ClassPermanent},
		{name: "tagged fatal", err: Fatal(errors.New("x")), want: ClassFatal},
		{name: "wrapped tag survives fmt.Errorf", err: fmt.Errorf("outer: %w", Permanent(errors.New("x"))), want: ClassPermanent},
		{name: "not found sentinel", err: fmt.Errorf("%w: status 404", ErrNotFound), want: ClassPermanent},
		{name: "parse sentinel", err: ErrParse, want: ClassPermanent},
		{name: "timeout sentinel", err: ErrFetchTimeout, want: ClassTransient},
		{name: "navigation sentinel", err: ErrNavigationFailed, want: ClassTransient},
		{name: "context deadline", err: context.DeadlineExceeded, want: ClassTransient},
		{name: "unknown error defaults to transient", err: errors.New("mystery"), want: ClassTransient},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestExplicitTagBeatsSentinel(t *testing.T) {
	// An adapter may decide a normally-permanent condition is transient for
	// its site; the explicit tag must win.
	err := Transient(fmt.Errorf("%w: flaky CDN", ErrNotFound))
	if got := Classify(err); got != ClassTransient {
		t.Errorf("Classify = %v, want transient (explicit tag wins)", got)
	}
}

func TestWrappersPreserveNil(t *testing.T) {
	if Transient(nil) != nil || Permanent(nil) != nil || Fatal(nil) != nil {
		t.Error("wrapping nil must return nil")
	}
}

func TestPredicates(t *testing.T) {
	if !IsTransient(Transient(errors.New("x"))) {
		t.Error("IsTransient should be true for tagged transient errors")
	}
	if !IsPermanent(Permanent(errors.New("x"))) {
		t.Error("IsPermanent should be true for tagged permanent errors")
	}
	if !IsFatal(Fatal(errors.New("x"))) {
		t.Error("IsFatal should be true for tagged fatal errors")
	}
	if IsTransient(nil) || IsPermanent(nil) || IsFatal(nil) {
		t.Error("predicates must be false for nil")
	}
}

func TestAdapterErrorUnwrap(t *testing.T) {
	inner := errors.New("root cause")
	err := Permanent(inner)
	if !errors.Is(err, inner) {
		t.Error("wrapped error must be reachable through errors.Is")
	}
}
