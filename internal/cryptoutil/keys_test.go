package cryptoutil

import "testing"

func TestGenerateAndRoundTripPEM(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	privPEM, err := EncodePrivatePEM(kp.Private)
	if err != nil {
		t.Fatalf("EncodePrivatePEM: %v", err)
	}
	pubPEM, err := EncodePublicPEM(kp.Public)
	if err != nil {
		t.Fatalf("EncodePublicPEM: %v", err)
	}

	gotPriv, err := DecodePrivatePEM(privPEM)
	if err != nil {
		t.Fatalf("DecodePrivatePEM: %v", err)
	}
	if gotPriv.N.Cmp(kp.Private.N) != 0 {
		t.Fatal("decoded private key modulus does not match original")
	}

	gotPub, err := DecodePublicPEM(pubPEM)
	if err != nil {
		t.Fatalf("DecodePublicPEM: %v", err)
	}
	if gotPub.N.Cmp(kp.Public.N) != 0 {
		t.Fatal("decoded public key modulus does not match original")
	}
}

func TestDecodePrivatePEMRejectsGarbage(t *testing.T) {
	if _, err := DecodePrivatePEM("not a pem block"); err == nil {
		t.Fatal("expected error decoding garbage PEM")
	}
}
