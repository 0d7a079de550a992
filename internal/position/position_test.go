package position

import "testing"

func TestPositionString(t *testing.T) {
	tests := []struct {
		name     string
		pos      Position
		expected string
	}{
		{"with filename", Position{Filename: "list.lm", Line: 3, Column: 7}, "list.lm:3:7"},
		{"path stripped to base", Position{Filename: "src/gc/list.lm", Line: 1, Column: 1}, "list.lm:1:1"},
		{"no filename", Position{Line: 12, Column: 4}, "12:4"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.pos.String(); got != test.expected {
				t.Errorf("String() = %q, want %q", got, test.expected)
			}
		})
	}
}

func TestSpanString(t *testing.T) {
	single := NewSpan("list.lm", 3, 7, 4)
	if got := single.String(); got != "list.lm:3:7-11" {
		t.Errorf("single-line span = %q", got)
	}

	multi := Span{
		Start: Position{Filename: "list.lm", Line: 3, Column: 7},
		End:   Position{Filename: "list.lm", Line: 5, Column: 2},
	}
	if got := multi.String(); got != "list.lm:3:7-5:2" {
		t.Errorf("multi-line span = %q", got)
	}
}

func TestSpanIsValid(t *testing.T) {
	if !NewSpan("a.lm", 1, 1, 1).IsValid() {
		t.Error("expected valid span")
	}

	crossFile := Span{
		Start: Position{Filename: "a.lm", Line: 1, Column: 1},
		End:   Position{Filename: "b.lm", Line: 1, Column: 2},
	}
	if crossFile.IsValid() {
		t.Error("span across files should be invalid")
	}

	if (Span{}).IsValid() {
		t.Error("zero span should be invalid")
	}
}
