package main

import (
	"bytes"
	"strings"
	"testing"
)

const testPubkey = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

func TestEncodeDecodeSubscribe(t *testing.T) {
	var out bytes.Buffer
	if err := run(&out, []string{"encode", "subscribe", testPubkey}, "u4pru"); err != nil {
		t.Fatal(err)
	}
	payload := strings.TrimSpace(out.String())
	if !strings.HasPrefix(payload, "0201"+testPubkey) {
		t.Fatalf("payload = %s", payload)
	}

	out.Reset()
	if err := run(&out, []string{"decode", payload}, ""); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"OK subscribe", "pubkey " + testPubkey, "geohash u4pru"} {
		if !strings.Contains(got, want) {
			t.Errorf("decode output missing %q:\n%s", want, got)
		}
	}
}

func TestEncodeDecodePublish(t *testing.T) {
	var out bytes.Buffer
	evt := `{"id":"abc","pubkey":"` + testPubkey + `","kind":1059}`
	if err := run(&out, []string{"encode", "publish", evt}, ""); err != nil {
		t.Fatal(err)
	}
	payload := strings.TrimSpace(out.String())

	out.Reset()
	if err := run(&out, []string{"decode", payload}, ""); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); !strings.Contains(got, "OK publish") || !strings.Contains(got, "kind 1059") {
		t.Fatalf("decode output:\n%s", got)
	}
}

func TestRunFailures(t *testing.T) {
	cases := [][]string{
		{"decode"},
		{"decode", "zz"},
		{"decode", "09"},
		{"decode", "0201ff"},
		{"encode", "subscribe", "abcd"},
		{"encode", "publish", "{not json"},
		{"encode", "frobnicate", "x"},
		{"bogus", "x"},
	}
	for _, args := range cases {
		if err := run(&bytes.Buffer{}, args, ""); err == nil {
			t.Errorf("run(%q) succeeded", args)
		}
	}
}
