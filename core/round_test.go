package core

import (
	"testing"
	"time"
)

func TestDecideOutcome(t *testing.T) {
	cases := []struct {
		name      string
		favorable int
		against   int
		want      Outcome
	}{
		{name: "clear majority", favorable: 5, against: 2, want: OutcomeApproved},
		{name: "single vote wins", favorable: 1, against: 0, want: OutcomeApproved},
		{name: "tie", favorable: 3, against: 3, want: OutcomeNotApproved},
		{name: "zero votes", favorable: 0, against: 0, want: OutcomeNotApproved},
		{name: "majority against", favorable: 2, against: 4, want: OutcomeNotApproved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DecideOutcome(tc.favorable, tc.against); got != tc.want {
				t.Fatalf("DecideOutcome(%d, %d) = %s, want %s", tc.favorable, tc.against, got, tc.want)
			}
		})
	}
}

func TestRoundExpired(t *testing.T) {
	now := time.Date(2024, 3, 11, 19, 0, 0, 0, time.UTC)
	deadline := now.Add(time.Minute)

	var nilRound *Round
	if nilRound.Expired(now) {
		t.Fatalf("nil round must not expire")
	}

	open := &Round{Status: RoundStatusOpen}
	if open.Expired(now.Add(time.Hour)) {
		t.Fatalf("round without deadline must never expire")
	}

	timed := &Round{Status: RoundStatusOpen, ExpiresAt: &deadline}
	if timed.Expired(deadline.Add(-time.Second)) {
		t.Fatalf("round must stay open before the deadline")
	}
	if !timed.Expired(deadline) {
		t.Fatalf("round must expire exactly at the deadline")
	}
	if !timed.Expired(deadline.Add(time.Second)) {
		t.Fatalf("round must stay expired after the deadline")
	}
}

func TestVoteValueValid(t *testing.T) {
	for _, v := range []VoteValue{VoteValueFavorable, VoteValueAgainst, VoteValueAbstain} {
		if !v.Valid() {
			t.Fatalf("%s must be valid", v)
		}
	}
	for _, v := range []VoteValue{VoteValueUnspecified, VoteValue("yes"), VoteValue("FAVORABLE")} {
		if v.Valid() {
			t.Fatalf("%q must be invalid", v)
		}
	}
}
