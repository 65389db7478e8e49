package chainclient

import "testing"

func TestDecodeNEARLogHTLCCreated(t *testing.T) {
	line := `{"event":"htlc_created","hashlock":"0x` +
		`0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20` +
		`","amount":"1000000000000000000000000","receiver":"taker.near","timelock_unix":1780000000}`

	ev, ok := decodeNEARLog(line, "tx1", 42)
	if !ok {
		t.Fatal("decodeNEARLog returned ok=false")
	}
	if ev.Kind != EventHTLCCreated {
		t.Fatalf("Kind = %v, want EventHTLCCreated", ev.Kind)
	}
	if ev.Hashlock[0] != 0x01 || ev.Hashlock[31] != 0x20 {
		t.Fatalf("hashlock not decoded correctly: %x", ev.Hashlock)
	}
	if ev.Amount == nil || ev.Amount.String() != "1000000000000000000000000" {
		t.Fatalf("Amount = %v, want 1000000000000000000000000", ev.Amount)
	}
	if ev.Extras["receiver"] != "taker.near" {
		t.Fatalf("receiver extra = %q, want taker.near", ev.Extras["receiver"])
	}
	if ev.Timelock.Unix() != 1780000000 {
		t.Fatalf("Timelock = %v, want unix 1780000000", ev.Timelock)
	}
}

func TestDecodeNEARLogUnknownEventIgnored(t *testing.T) {
	line := `{"event":"something_else"}`
	_, ok := decodeNEARLog(line, "tx1", 1)
	if ok {
		t.Fatal("expected ok=false for unknown event kind")
	}
}

func TestDecodeNEARLogMalformedJSONIgnored(t *testing.T) {
	_, ok := decodeNEARLog("not json", "tx1", 1)
	if ok {
		t.Fatal("expected ok=false for malformed log line")
	}
}

func TestDecodeHexPrefixed(t *testing.T) {
	got := decodeHexPrefixed("0xff00")
	if len(got) != 2 || got[0] != 0xff || got[1] != 0x00 {
		t.Fatalf("decodeHexPrefixed(0xff00) = %x", got)
	}

	got2 := decodeHexPrefixed("ab")
	if len(got2) != 1 || got2[0] != 0xab {
		t.Fatalf("decodeHexPrefixed(ab) = %x", got2)
	}
}
