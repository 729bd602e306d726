package shared_test

import (
	"context"
	"errors"
	"fmt"

	"litedb/internal/shared"
)

// Example_wrap demonstrates how to add context to errors while preserving the original error.
func Example_wrap() {
	err := shared.Wrapf(shared.ErrNotFound, "inspect %q", "galaxy")

	fmt.Println(err)
	fmt.Println("not found:", shared.IsNotFound(err))

	// Output:
	// inspect "galaxy": not found
	// not found: true
}

// Example_markKind shows how an engine error gets a kind without losing its identity.
func Example_markKind() {
	engineErr := errors.New("database is locked")
	err := shared.MarkKind(engineErr, shared.KindBusy)

	fmt.Println(err)
	fmt.Println(shared.KindOf(err))
	fmt.Println(errors.Is(err, engineErr))

	// Output:
	// database busy: database is locked
	// Busy
	// true
}

// Example_kindOf classifies errors by priority; cancellation wins over everything else.
func Example_kindOf() {
	canceled := fmt.Errorf("%w: %w", shared.ErrBusy, context.Canceled)

	fmt.Println(shared.KindOf(canceled))
	fmt.Println(shared.KindOf(errors.New("boom")))
	fmt.Println(shared.ParseKind("Misuse") == shared.KindMisuse)

	// Output:
	// Canceled
	// Unknown
	// true
}
