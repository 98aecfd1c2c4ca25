package ami

import (
	"bufio"
	"strings"
	"testing"
)

func TestEncodeAction(t *testing.T) {
	fields := [][2]string{
		{"Action", "Originate"},
		{"Channel", "SIP/0612345678"},
		{"Variable", "CALLID=abc"},
		{"Variable", "PHONENUMBER=0612345678"},
	}

	got := EncodeAction(fields)
	want := "Action: Originate\r\nChannel: SIP/0612345678\r\nVariable: CALLID=abc\r\nVariable: PHONENUMBER=0612345678\r\n\r\n"
	if got != want {
		t.Fatalf("EncodeAction() = %q, want %q", got, want)
	}
}

func TestReadBlock(t *testing.T) {
	raw := "Response: Success\r\nActionID: 7\r\nMessage: Originate successfully queued\r\n\r\n"
	block, err := readBlock(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("readBlock: %v", err)
	}

	if block["Response"] != "Success" {
		t.Errorf("Response = %q, want Success", block["Response"])
	}
	if block["ActionID"] != "7" {
		t.Errorf("ActionID = %q, want 7", block["ActionID"])
	}
}

func TestReadBlockSkipsLeadingBlankLines(t *testing.T) {
	raw := "\r\nResponse: Error\r\nMessage: Permission denied\r\n\r\n"
	block, err := readBlock(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("readBlock: %v", err)
	}
	if block["Response"] != "Error" {
		t.Errorf("Response = %q, want Error", block["Response"])
	}
}
