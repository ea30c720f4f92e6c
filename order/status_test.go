package order

import "testing"

func TestNextKnownTransitions(t *testing.T) {
	cases := []struct {
		from  Status
		event EventKind
		want  Status
	}{
		{"", EventPlaceAccepted, StatusPendingNew},
		{StatusPendingNew, EventOrderAck, StatusActive},
		{StatusPendingNew, EventOrderReject, StatusRejected},
		{StatusActive, EventAmendAccepted, StatusPendingAmend},
		{StatusActive, EventCancelAccepted, StatusPendingCancel},
		{StatusActive, EventCompleteFill, StatusFilled},
		{StatusPendingAmend, EventAmendAck, StatusActive},
		{StatusPendingAmend, EventAmendReject, StatusActive},
		{StatusPendingAmend, EventCompleteFill, StatusFilled},
		{StatusPendingCancel, EventCancelAck, StatusCancelled},
		{StatusPendingCancel, EventCancelReject, StatusActive},
	}
	for _, c := range cases {
		got, err := Next(c.from, c.event)
		if err != nil {
			t.Fatalf("Next(%s, %s) returned error: %v", c.from, c.event, err)
		}
		if got != c.want {
			t.Errorf("Next(%s, %s) = %s, want %s", c.from, c.event, got, c.want)
		}
	}
}

func TestNextRejectsIllegalEdge(t *testing.T) {
	if _, err := Next(StatusFilled, EventOrderAck); err == nil {
		t.Fatal("expected error for illegal transition out of a terminal state")
	}
	var target *ErrIllegalTransition
	if _, err := Next(StatusCancelled, EventAmendAck); err == nil {
		t.Fatal("expected error")
	} else if _, ok := err.(*ErrIllegalTransition); !ok {
		t.Fatalf("expected *ErrIllegalTransition, got %T", err)
	}
	_ = target
}

func TestIsTerminal(t *testing.T) {
	terminal := []Status{StatusFilled, StatusCancelled, StatusRejected}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	nonTerminal := []Status{StatusPendingNew, StatusActive, StatusPendingAmend, StatusPendingCancel}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
