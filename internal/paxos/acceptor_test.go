package paxos

import "testing"

func TestAcceptorOnPrepareStrictlyGreater(t *testing.T) {
	a := NewAcceptor(1)

	p1 := a.OnPrepare(Prepare{Slot: 0, Round: Round{Counter: 2, NodeID: 9}})
	if !p1.OK {
		t.Fatalf("first prepare at round 2 should be promised, got %+v", p1)
	}

	// An equal round must be rejected: the comparison is strict.
	p2 := a.OnPrepare(Prepare{Slot: 0, Round: Round{Counter: 2, NodeID: 9}})
	if p2.OK {
		t.Fatal("prepare at an equal round must be rejected")
	}
	if p2.HighestSeen != (Round{Counter: 2, NodeID: 9}) {
		t.Fatalf("rejected prepare should report the current promise, got %+v", p2.HighestSeen)
	}

	// A strictly higher round must win.
	p3 := a.OnPrepare(Prepare{Slot: 0, Round: Round{Counter: 3, NodeID: 1}})
	if !p3.OK {
		t.Fatal("prepare at a strictly higher round should be promised")
	}
}

func TestAcceptorOnAcceptNonStrict(t *testing.T) {
	a := NewAcceptor(1)
	round := Round{Counter: 5, NodeID: 1}

	promise := a.OnPrepare(Prepare{Slot: 0, Round: round})
	if !promise.OK {
		t.Fatal("prepare should succeed")
	}

	// Accept at the exact promised round must succeed (non-strict >=).
	accepted := a.OnAccept(Accept{Slot: 0, Round: round, Value: Command{Kind: "x"}})
	if !accepted.OK {
		t.Fatal("accept at the promised round should succeed")
	}

	// Accept below the promised round must fail.
	low := a.OnAccept(Accept{Slot: 0, Round: Round{Counter: 1, NodeID: 1}, Value: Command{Kind: "y"}})
	if low.OK {
		t.Fatal("accept below the promised round must fail")
	}
}

func TestAcceptorPromiseCarriesPriorAccept(t *testing.T) {
	a := NewAcceptor(1)
	r1 := Round{Counter: 1, NodeID: 1}
	value := Command{Kind: "create", Payload: []byte("sc-1")}

	a.OnPrepare(Prepare{Slot: 7, Round: r1})
	accepted := a.OnAccept(Accept{Slot: 7, Round: r1, Value: value})
	if !accepted.OK {
		t.Fatal("accept should succeed")
	}

	r2 := Round{Counter: 2, NodeID: 2}
	promise := a.OnPrepare(Prepare{Slot: 7, Round: r2})
	if !promise.OK {
		t.Fatal("higher-round prepare should succeed")
	}
	if !promise.HasAcceptedValue || !promise.AcceptedValue.Equal(value) {
		t.Fatalf("promise must carry the previously accepted value, got %+v", promise)
	}
}

func TestAcceptorGlobalPromisedFloor(t *testing.T) {
	a := NewAcceptor(1)
	leaderRound := Round{Counter: 4, NodeID: 2}

	a.OnPrepare(Prepare{Slot: 0, Round: leaderRound})

	// A brand-new slot this acceptor has never seen should already be
	// promised to the leader's round, letting a leader skip phase 1.
	accepted := a.OnAccept(Accept{Slot: 99, Round: leaderRound, Value: Command{Kind: "create"}})
	if !accepted.OK {
		t.Fatal("a fresh slot should inherit the global promised floor")
	}

	stale := a.OnAccept(Accept{Slot: 98, Round: Round{Counter: 1, NodeID: 3}, Value: Command{Kind: "create"}})
	if stale.OK {
		t.Fatal("a fresh slot should reject an accept below the global promised floor")
	}
}

func TestAcceptorForgetDiscardsBelowFirstSlot(t *testing.T) {
	a := NewAcceptor(1)
	round := Round{Counter: 1, NodeID: 1}
	a.OnPrepare(Prepare{Slot: 3, Round: round})
	a.OnPrepare(Prepare{Slot: 5, Round: round})

	a.Forget(5)

	belowSnapshot := a.OnPrepare(Prepare{Slot: 3, Round: Round{Counter: 2, NodeID: 1}})
	if belowSnapshot.OK {
		t.Fatal("slots below firstSlot must be rejected outright")
	}

	stillTracked := a.OnPrepare(Prepare{Slot: 5, Round: Round{Counter: 2, NodeID: 1}})
	if !stillTracked.OK {
		t.Fatal("slot at the new firstSlot boundary should still be tracked")
	}
}
