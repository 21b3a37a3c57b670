package whatsapp

import (
	"strings"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	secret := "app-secret"
	good := Sign(body, secret)

	if !strings.HasPrefix(good, "sha256=") || len(good) != len("sha256=")+64 {
		t.Fatalf("Sign produced unexpected header %q", good)
	}
	if !VerifySignature(body, good, secret) {
		t.Fatalf("valid signature rejected")
	}
	if !VerifySignature(body, "  "+good+" ", secret) {
		t.Fatalf("surrounding whitespace should be tolerated")
	}

	cases := map[string]struct {
		body   []byte
		header string
		secret string
	}{
		"wrong secret":     {body, good, "other"},
		"tampered body":    {[]byte(`{"object":"x"}`), good, secret},
		"empty header":     {body, "", secret},
		"empty secret":     {body, good, ""},
		"missing equals":   {body, strings.TrimPrefix(good, "sha256="), secret},
		"wrong algorithm":  {body, "sha1=" + strings.TrimPrefix(good, "sha256="), secret},
		"extra equals":     {body, good + "=x", secret},
		"non-hex digest":   {body, "sha256=zzzz", secret},
		"truncated digest": {body, good[:len(good)-2], secret},
		"uppercase algo":   {body, "SHA256=" + strings.TrimPrefix(good, "sha256="), secret},
	}
	for name, tc := range cases {
		if VerifySignature(tc.body, tc.header, tc.secret) {
			t.Fatalf("%s: expected rejection", name)
		}
	}
}

func TestVerifySignature_UppercaseHexAccepted(t *testing.T) {
	body := []byte("payload")
	h := Sign(body, "k")
	upper := "sha256=" + strings.ToUpper(strings.TrimPrefix(h, "sha256="))
	if !VerifySignature(body, upper, "k") {
		t.Fatalf("hex case should not matter")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte("abc"))
	if a != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("Fingerprint(abc) = %s", a)
	}
	if Fingerprint([]byte("abc")) != a {
		t.Fatalf("fingerprint not stable")
	}
	if Fingerprint([]byte("abc ")) == a {
		t.Fatalf("different bytes must fingerprint differently")
	}
	if ShortFingerprint(a) != "ba7816bf" || ShortFingerprint("abc") != "abc" {
		t.Fatalf("ShortFingerprint unexpected")
	}
}
