package store

import (
	"errors"
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.UTC)
	c := Cursor{CreatedAt: at, ID: "abc123"}
	decoded, err := DecodeCursor(c.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if !decoded.CreatedAt.Equal(at) || decoded.ID != "abc123" {
		t.Fatalf("round trip lost data: %+v", decoded)
	}
}

func TestDecodeCursorEmpty(t *testing.T) {
	c, err := DecodeCursor("")
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != "" || !c.CreatedAt.IsZero() {
		t.Fatalf("empty cursor not zero: %+v", c)
	}
}

func TestDecodeCursorGarbage(t *testing.T) {
	if _, err := DecodeCursor("!!!not-base64!!!"); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestCursorAfter(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	c := Cursor{CreatedAt: at, ID: "mmm"}

	if !c.After(at.Add(time.Second), "aaa") {
		t.Error("later timestamp should be after")
	}
	if !c.After(at, "nnn") {
		t.Error("same timestamp, larger id should be after")
	}
	if c.After(at, "mmm") {
		t.Error("cursor itself should not be after")
	}
	if c.After(at.Add(-time.Second), "zzz") {
		t.Error("earlier timestamp should not be after")
	}
	if !(Cursor{}).After(at, "aaa") {
		t.Error("zero cursor admits everything")
	}
}
