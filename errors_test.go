package chai

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"testing"
)

func ExampleError() {
	fmt.Println(&Error{
		Inner:   nil,
		Kind:    ErrInternal,
		Message: "test",
		Op:      "ExampleError",
	})

	fmt.Println(&Error{
		Inner:   sql.ErrNoRows,
		Kind:    ErrConflict,
		Message: "needed row missing",
		Op:      "Ingest",
	})
	err := &Error{
		Inner: &Error{
			Inner:   sql.ErrNoRows,
			Kind:    ErrConflict,
			Message: "needed row missing",
			Op:      "Ingest",
		},
		Kind: ErrTransient,
	}
	fmt.Println(err)
	fmt.Println(fmt.Errorf("somepackage: oops: %w", &Error{
		Inner:   sql.ErrNoRows,
		Kind:    ErrConflict,
		Message: "needed row missing",
		Op:      "Ingest",
	}))

	// Output:
	// ExampleError [internal]: test
	// Ingest [conflict]: needed row missing: sql: no rows in result set
	// Ingest [conflict]: needed row missing: sql: no rows in result set
	// somepackage: oops: Ingest [conflict]: needed row missing: sql: no rows in result set
}

type kindTestcase struct {
	Err       error
	Permanent bool
	Transient bool
}

func (tc kindTestcase) Run(t *testing.T) {
	t.Log(tc.Err)
	if got, want := errors.Is(tc.Err, ErrPermanent), tc.Permanent; got != want {
		t.Errorf("%v: got: %v, want: %v", ErrPermanent, got, want)
	}
	if got, want := errors.Is(tc.Err, ErrTransient), tc.Transient; got != want {
		t.Errorf("%v: got: %v, want: %v", ErrTransient, got, want)
	}
}

func TestErrorKinds(t *testing.T) {
	tt := []kindTestcase{
		// 0: Permanent
		{
			Err: &Error{
				Inner: errors.New("permanent"),
				Kind:  ErrPermanent,
			},
			Permanent: true,
			Transient: false,
		},
		// 1: Transient
		{
			Err: &Error{
				Inner: errors.New("transient"),
				Kind:  ErrTransient,
			},
			Permanent: false,
			Transient: true,
		},
		// 2: Nested kinds are both visible
		{
			Err: &Error{
				Kind: ErrTransient,
				Inner: &Error{
					Inner: errors.New("confused"),
					Kind:  ErrPermanent,
				},
			},
			Permanent: true,
			Transient: true,
		},
	}

	for i, tc := range tt {
		t.Run(strconv.Itoa(i), tc.Run)
	}
}
