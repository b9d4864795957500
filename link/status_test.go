package link

import (
	"errors"
	"testing"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantValid   bool
		wantState   string
		wantBuffer  bool
		wantPlanner int
		wantRx      int
	}{
		{
			name:        "grbl 1.1 with buffer field",
			line:        "<Idle|MPos:0.000,0.000,0.000|Bf:15,128|FS:0,0>",
			wantValid:   true,
			wantState:   "Idle",
			wantBuffer:  true,
			wantPlanner: 15,
			wantRx:      128,
		},
		{
			name:        "run with partially full planner",
			line:        "<Run|MPos:1.000,2.000,0.000|Bf:3,90>",
			wantValid:   true,
			wantState:   "Run",
			wantBuffer:  true,
			wantPlanner: 3,
			wantRx:      90,
		},
		{
			name:      "state only",
			line:      "<Idle|MPos:0.000,0.000,0.000>",
			wantValid: true,
			wantState: "Idle",
		},
		{
			name:      "grbl 0.9 comma fields",
			line:      "<Run,MPos:0.000,0.000,0.000,WPos:0.000,0.000,0.000>",
			wantValid: true,
			wantState: "Run",
		},
		{
			name:      "sub-state",
			line:      "<Hold:0|MPos:0.000,0.000,0.000>",
			wantValid: true,
			wantState: "Hold:0",
		},
		{
			name:      "trailing carriage return",
			line:      "<Idle>\r",
			wantValid: true,
			wantState: "Idle",
		},
		{
			name:      "malformed buffer field",
			line:      "<Idle|Bf:x,1>",
			wantValid: true,
			wantState: "Idle",
		},
		{name: "ok line", line: "ok"},
		{name: "empty", line: ""},
		{name: "unterminated", line: "<Idle|Bf:15,128"},
		{name: "empty brackets", line: "<>"},
		{name: "message", line: "[MSG:'$H'|'$X' to unlock]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseStatus(tt.line)
			if got.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v", got.Valid, tt.wantValid)
			}
			if got.State != tt.wantState {
				t.Errorf("State = %q, want %q", got.State, tt.wantState)
			}
			if got.HasBuffer != tt.wantBuffer {
				t.Errorf("HasBuffer = %v, want %v", got.HasBuffer, tt.wantBuffer)
			}
			if got.PlannerFree != tt.wantPlanner {
				t.Errorf("PlannerFree = %d, want %d", got.PlannerFree, tt.wantPlanner)
			}
			if got.RxFree != tt.wantRx {
				t.Errorf("RxFree = %d, want %d", got.RxFree, tt.wantRx)
			}
		})
	}
}

func TestBufferInfo_ReadyForMore(t *testing.T) {
	tests := []struct {
		line      string
		threshold int
		want      bool
	}{
		{"<Idle|Bf:15,128>", 7, true},
		{"<Run|Bf:8,128>", 7, true},
		{"<Run|Bf:7,128>", 7, false},
		{"<Run|Bf:0,128>", 7, false},
		{"<Idle|MPos:0,0,0>", 7, true},
		{"<Idle>", 7, true},
		{"<Run|MPos:0,0,0>", 7, false},
		{"<Hold:1|MPos:0,0,0>", 7, false},
		{"<Alarm>", 7, false},
		{"ok", 7, false},
		{"", 7, false},
	}

	for _, tt := range tests {
		got := ParseStatus(tt.line).ReadyForMore(tt.threshold)
		if got != tt.want {
			t.Errorf("ReadyForMore(%q, %d) = %v, want %v", tt.line, tt.threshold, got, tt.want)
		}
	}
}

func TestBufferInfo_BaseState(t *testing.T) {
	if got := ParseStatus("<Hold:0|Bf:1,1>").BaseState(); got != "Hold" {
		t.Errorf("BaseState() = %q, want Hold", got)
	}
	if got := ParseStatus("<Idle>").BaseState(); got != "Idle" {
		t.Errorf("BaseState() = %q, want Idle", got)
	}
}

func TestParseErrorCode(t *testing.T) {
	tests := map[string]int{
		"error:20":  20,
		"error: 9":  9,
		"error":     -1,
		"error:abc": -1,
	}
	for line, want := range tests {
		if got := parseErrorCode(line); got != want {
			t.Errorf("parseErrorCode(%q) = %d, want %d", line, got, want)
		}
	}
}

func TestError_Classification(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Kind: ErrCommandRejected, Op: "send", Port: "/dev/ttyUSB0", Command: "$100=250", Code: 20, Err: cause}

	if !errors.Is(err, ErrCommandRejected) {
		t.Error("expected errors.Is(err, ErrCommandRejected)")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("did not expect errors.Is(err, ErrTimeout)")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause in chain")
	}
	code, ok := RejectionCode(err)
	if !ok || code != 20 {
		t.Errorf("RejectionCode = %d, %v; want 20, true", code, ok)
	}
	if _, ok := RejectionCode(&Error{Kind: ErrTimeout, Code: -1}); ok {
		t.Error("RejectionCode on timeout should report false")
	}

	want := `send /dev/ttyUSB0: command rejected ("$100=250"): error:20: boom`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestLockName(t *testing.T) {
	tests := map[string]string{
		"/dev/ttyUSB0": "gstream-dev_ttyUSB0.lock",
		"COM3":         "gstream-COM3.lock",
	}
	for in, want := range tests {
		if got := lockName(in); got != want {
			t.Errorf("lockName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClaimPort_Exclusive(t *testing.T) {
	name := "claim-test-" + t.Name()
	release, err := claimPort(name)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := claimPort(name); err == nil {
		t.Fatal("second claim should fail")
	}
	release()
	release()

	again, err := claimPort(name)
	if err != nil {
		t.Fatalf("claim after release: %v", err)
	}
	again()
}
