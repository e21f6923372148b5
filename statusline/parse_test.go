package statusline

import "testing"

func TestParseEmptyLine(t *testing.T) {
	p := Parse("")
	if p.Kind != KindOther || p.Text != "" {
		t.Fatalf("Parse(\"\") = %+v, want KindOther with empty text", p)
	}
}

func TestParseStatusReportThreeAxis(t *testing.T) {
	p := Parse("<Idle|MPos:0.000,0.000,0.000>")
	if p.Kind != KindStatusReport {
		t.Fatalf("expected KindStatusReport, got %v", p.Kind)
	}
	if p.Status.State != StateIdle {
		t.Errorf("expected Idle state, got %v", p.Status.State)
	}
	if p.Status.MPos.C != 0.0 {
		t.Errorf("expected missing C axis to default to 0.0, got %g", p.Status.MPos.C)
	}
}

func TestParseStatusReportFourAxis(t *testing.T) {
	p := Parse("<Run|MPos:1.000,2.000,90.000,-10.000|FS:100,0>")
	if p.Kind != KindStatusReport {
		t.Fatalf("expected KindStatusReport, got %v", p.Kind)
	}
	want := Position{X: 1, Y: 2, Z: 90, C: -10}
	if p.Status.MPos != want {
		t.Errorf("MPos = %+v, want %+v", p.Status.MPos, want)
	}
	if p.Status.FS == nil || p.Status.FS.Feed != 100 {
		t.Errorf("expected FS.Feed == 100, got %+v", p.Status.FS)
	}
}

func TestParseOK(t *testing.T) {
	if p := Parse("ok"); p.Kind != KindOK {
		t.Fatalf("Parse(\"ok\") kind = %v, want KindOK", p.Kind)
	}
}

func TestParseErrorResponse(t *testing.T) {
	p := Parse("error:9")
	if p.Kind != KindError || p.Code != 9 {
		t.Fatalf("Parse(\"error:9\") = %+v, want KindError code 9", p)
	}
}

func TestParseAlarmResponse(t *testing.T) {
	for _, line := range []string{"ALARM:1", "[ALARM:1]"} {
		p := Parse(line)
		if p.Kind != KindAlarm || p.Code != 1 {
			t.Errorf("Parse(%q) = %+v, want KindAlarm code 1", line, p)
		}
	}
}

func TestParseHomingComplete(t *testing.T) {
	p := Parse("[MSG:DBG: Homing done]")
	if p.Kind != KindHomingComplete {
		t.Fatalf("expected KindHomingComplete, got %v", p.Kind)
	}
	// near misses must not match
	near := Parse("[MSG:DBG: Homing Done]")
	if near.Kind == KindHomingComplete {
		t.Fatal("case-insensitive near-miss should not be treated as homing complete")
	}
}

func TestParseHomedAxis(t *testing.T) {
	p := Parse("[MSG:Homed:X]")
	if p.Kind != KindHomedAxis || p.Axis != "X" {
		t.Fatalf("Parse(\"[MSG:Homed:X]\") = %+v, want KindHomedAxis axis X", p)
	}
}

func TestParseInfo(t *testing.T) {
	p := Parse("[MSG:Caution: Unlocked]")
	if p.Kind != KindInfo {
		t.Fatalf("expected KindInfo, got %v", p.Kind)
	}
}

func TestParseOtherNeverPanics(t *testing.T) {
	inputs := []string{"garbage", "<unterminated", "[no closing bracket", "error:abc", "ALARM:xyz"}
	for _, in := range inputs {
		p := Parse(in)
		if p.Kind != KindOther && p.Kind != KindError && p.Kind != KindAlarm {
			// acceptable fallthrough kinds; the important property is no panic occurred
			_ = p
		}
	}
}
