package ident

import "testing"

func TestParseResponseUserID(t *testing.T) {
	user, err := parseResponse("6195, 23 : USERID : UNIX : stjohns\r\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != "stjohns" {
		t.Errorf("got %q, want stjohns", user)
	}
}

func TestParseResponseError(t *testing.T) {
	_, err := parseResponse("6195, 23 : ERROR : NO-USER\r\n")
	if err == nil {
		t.Fatal("expected error for ERROR response")
	}
	if _, ok := err.(*ErrNoIdent); !ok {
		t.Errorf("got %T, want *ErrNoIdent", err)
	}
}

func TestParseResponseMalformed(t *testing.T) {
	_, err := parseResponse("garbage\r\n")
	if err == nil {
		t.Fatal("expected error for malformed response")
	}
}
