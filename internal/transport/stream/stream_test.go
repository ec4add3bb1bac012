package stream

import (
	"testing"
)

func TestRawCodecRoundTrip(t *testing.T) {
	c := rawCodec{}

	in := rawFrame([]byte("opaque payload"))
	data, err := c.Marshal(&in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != "opaque payload" {
		t.Errorf("Marshal = %q", data)
	}

	var out rawFrame
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(out) != "opaque payload" {
		t.Errorf("Unmarshal = %q", out)
	}
}

func TestRawCodecRejectsForeignTypes(t *testing.T) {
	c := rawCodec{}
	if _, err := c.Marshal("not a frame"); err == nil {
		t.Error("Marshal accepted a string")
	}
	if err := c.Unmarshal(nil, &struct{}{}); err == nil {
		t.Error("Unmarshal accepted a struct")
	}
}
