package domain

import (
	"errors"
	"testing"
)

func TestErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		parent error
	}{
		{ErrInvalidID, ErrInvalidInput},
		{ErrTooLarge, ErrInvalidInput},
		{ErrExpiryInvalid, ErrInvalidInput},
		{ErrUnreadableUpload, ErrInvalidInput},
		{ErrIncorrectPassword, ErrForbidden},
		{ErrNotOwner, ErrForbidden},
	}
	for _, c := range cases {
		if !errors.Is(c.err, c.parent) {
			t.Errorf("%v should wrap %v", c.err, c.parent)
		}
	}
	if errors.Is(ErrExhausted, ErrNotFound) {
		t.Fatalf("ErrExhausted must stay distinct from ErrNotFound")
	}
}
