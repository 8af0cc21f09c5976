package ir

import (
	"strings"
	"testing"

	"sysycc/pkg/typing"
)

func TestVerifyAcceptsWellFormed(t *testing.T) {
	m := NewModule()
	f := m.NewFunction("f", typing.Func(typing.I32(), typing.I32()))
	entry := f.NewBlock("entry")
	then := f.NewBlock("then")
	els := f.NewBlock("else")
	join := f.NewBlock("join")

	a := f.Args()[0]
	cmp := NewICmp(PredLT, a, NewConstInt(typing.I32(), 10))
	entry.Append(cmp)
	entry.Append(NewCondBr(cmp, then, els))
	then.Append(NewBr(join))
	els.Append(NewBr(join))

	phi := NewPhi(typing.I32())
	join.Append(phi)
	phi.AddIncoming(NewConstInt(typing.I32(), 1), then)
	phi.AddIncoming(a, els)
	join.Append(NewRet(phi))

	if err := Verify(m); err != nil {
		t.Fatalf("well-formed module rejected: %v", err)
	}
}

func TestVerifyMissingTerminator(t *testing.T) {
	m := NewModule()
	f := m.NewFunction("f", typing.Func(typing.Void()))
	b := f.NewBlock("entry")
	b.Append(NewBinary(OpAdd, NewConstInt(typing.I32(), 1), NewConstInt(typing.I32(), 2)))

	err := Verify(m)
	if err == nil || !strings.Contains(err.Error(), "no terminator") {
		t.Fatalf("want missing-terminator error, got %v", err)
	}
}

func TestVerifyPhiPredMismatch(t *testing.T) {
	m := NewModule()
	f := m.NewFunction("f", typing.Func(typing.I32()))
	entry := f.NewBlock("entry")
	join := f.NewBlock("join")
	entry.Append(NewBr(join))

	phi := NewPhi(typing.I32())
	join.Append(phi)
	phi.AddIncoming(NewConstInt(typing.I32(), 1), entry)
	phi.AddIncoming(NewConstInt(typing.I32(), 2), join)
	join.Append(NewRet(phi))

	err := Verify(m)
	if err == nil || !strings.Contains(err.Error(), "phi") {
		t.Fatalf("want phi/pred error, got %v", err)
	}
}

func TestVerifyDominance(t *testing.T) {
	m := NewModule()
	f := m.NewFunction("f", typing.Func(typing.I32(), typing.Bool()))
	entry := f.NewBlock("entry")
	then := f.NewBlock("then")
	join := f.NewBlock("join")

	entry.Append(NewCondBr(f.Args()[0], then, join))
	def := NewBinary(OpAdd, NewConstInt(typing.I32(), 1), NewConstInt(typing.I32(), 2))
	then.Append(def)
	then.Append(NewBr(join))
	// def does not dominate join
	join.Append(NewRet(def))

	err := Verify(m)
	if err == nil || !strings.Contains(err.Error(), "dominate") {
		t.Fatalf("want dominance error, got %v", err)
	}
}

func TestVerifyTypeErrors(t *testing.T) {
	m := NewModule()
	f := m.NewFunction("f", typing.Func(typing.I32()))
	b := f.NewBlock("entry")
	slot := NewAlloca(typing.F32())
	b.Append(slot)
	st := newInstr(OpStore, typing.Void(), NewConstInt(typing.I32(), 1), slot)
	b.Append(st)
	b.Append(NewRet(NewConstInt(typing.I32(), 0)))

	err := Verify(m)
	if err == nil || !strings.Contains(err.Error(), "store") {
		t.Fatalf("want store type error, got %v", err)
	}
}

func TestVerifyRetType(t *testing.T) {
	m := NewModule()
	f := m.NewFunction("f", typing.Func(typing.I32()))
	b := f.NewBlock("entry")
	b.Append(NewRet(nil))

	err := Verify(m)
	if err == nil || !strings.Contains(err.Error(), "ret") {
		t.Fatalf("want ret type error, got %v", err)
	}
}
