package irc

import "testing"

func TestNumericInfoKnown(t *testing.T) {
	name, cat, ok := NumericInfo(RPL_WELCOME)
	if !ok || name != "RPL_WELCOME" || cat != CategoryReply {
		t.Errorf("NumericInfo(RPL_WELCOME) = %q, %v, %v", name, cat, ok)
	}
}

func TestNumericInfoEndOfList(t *testing.T) {
	_, cat, ok := NumericInfo(RPL_ENDOFWHOIS)
	if !ok || cat != CategoryEndOfList {
		t.Errorf("NumericInfo(RPL_ENDOFWHOIS) category = %v, want CategoryEndOfList", cat)
	}
}

func TestNumericInfoUnknown(t *testing.T) {
	if _, _, ok := NumericInfo("999"); ok {
		t.Error("NumericInfo(999) should report not ok")
	}
}

func TestNumericInfoSasl(t *testing.T) {
	_, cat, ok := NumericInfo(RPL_LOGGEDIN)
	if !ok || cat != CategoryCapSasl {
		t.Errorf("NumericInfo(RPL_LOGGEDIN) category = %v, want CategoryCapSasl", cat)
	}
}
