package keys

import "testing"

func TestGenerateAndLoadRoundTrip(t *testing.T) {
	pair, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	loaded, err := Load(pair.PrivatePEM, pair.PublicPEM)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Private.D.Cmp(pair.Private.D) != 0 {
		t.Fatalf("private key mismatch after round trip")
	}
	if loaded.Public.E != pair.Public.E {
		t.Fatalf("public key mismatch after round trip")
	}
}

func TestGenerateProducesDistinctKeys(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("generate a: %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("generate b: %v", err)
	}
	if a.PrivatePEM == b.PrivatePEM {
		t.Fatalf("expected distinct keys per call")
	}
}
