package humastar

import "testing"

func TestSignals(t *testing.T) {
	s, err := ParseSignals([]byte(`{"outputname":"midtown","minzoom":12,"maxzoom":14.0,"flag":true}`))
	if err != nil {
		t.Fatalf("ParseSignals: %v", err)
	}
	if s.String("outputname") != "midtown" || s.String("minzoom") != "" {
		t.Fatalf("String = %q", s.String("outputname"))
	}
	if s.Int("minzoom") != 12 || s.Int("maxzoom") != 14 || s.Int("missing") != 0 {
		t.Fatalf("Int = %d %d", s.Int("minzoom"), s.Int("maxzoom"))
	}
}

func TestMustParseRejectsBadBody(t *testing.T) {
	in := &SignalsInput{RawBody: []byte("{")}
	if _, err := in.MustParse(); err == nil {
		t.Fatal("expected error")
	}
}
