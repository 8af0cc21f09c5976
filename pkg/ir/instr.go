package ir

import (
	"fmt"

	"sysycc/pkg/typing"
)

// Opcode identifies an instruction variant
type Opcode int

const (
	OpAlloca Opcode = iota
	OpLoad
	OpStore
	OpGetElementPtr
	OpMemset
	OpRet
	OpBr
	OpCondBr
	OpCall
	OpICmp
	OpFCmp
	OpFNeg
	OpTrunc
	OpZExt
	OpSExt
	OpFPTrunc
	OpFPToSI
	OpSIToFP
	OpBitCast
	OpPtrToInt
	OpIntToPtr
	OpAdd
	OpFAdd
	OpSub
	OpFSub
	OpMul
	OpFMul
	OpSDiv
	OpFDiv
	OpSRem
	OpFRem
	OpPhi
)

var opNames = [...]string{
	"alloca", "load", "store", "getelementptr", "memset",
	"ret", "br", "condbr", "call",
	"icmp", "fcmp", "fneg",
	"trunc", "zext", "sext", "fptrunc", "fptosi", "sitofp",
	"bitcast", "ptrtoint", "inttoptr",
	"add", "fadd", "sub", "fsub", "mul", "fmul",
	"sdiv", "fdiv", "srem", "frem",
	"phi",
}

func (op Opcode) String() string { return opNames[op] }

// IsTerminator reports whether op ends a basic block
func (op Opcode) IsTerminator() bool {
	return op == OpRet || op == OpBr || op == OpCondBr
}

// IsBinary reports whether op is an arithmetic binary operation
func (op Opcode) IsBinary() bool {
	return op >= OpAdd && op <= OpFRem
}

// IsCast reports whether op is a conversion
func (op Opcode) IsCast() bool {
	return op >= OpTrunc && op <= OpIntToPtr
}

// IsCommutative reports whether op's operands may swap
func (op Opcode) IsCommutative() bool {
	return op == OpAdd || op == OpFAdd || op == OpMul || op == OpFMul
}

// CmpPred is a comparison predicate shared by icmp and fcmp
type CmpPred int

const (
	PredEQ CmpPred = iota
	PredNE
	PredLT
	PredLE
	PredGT
	PredGE
)

func (p CmpPred) String() string {
	return [...]string{"eq", "ne", "lt", "le", "gt", "ge"}[p]
}

// Swapped returns the predicate with operand order reversed
func (p CmpPred) Swapped() CmpPred {
	switch p {
	case PredLT:
		return PredGT
	case PredLE:
		return PredGE
	case PredGT:
		return PredLT
	case PredGE:
		return PredLE
	}
	return p
}

// Inverted returns the logical negation of the predicate
func (p CmpPred) Inverted() CmpPred {
	switch p {
	case PredEQ:
		return PredNE
	case PredNE:
		return PredEQ
	case PredLT:
		return PredGE
	case PredLE:
		return PredGT
	case PredGT:
		return PredLE
	case PredGE:
		return PredLT
	}
	return p
}

// Instr is a single SSA instruction. The opcode tags the variant;
// per-op payload lives in the extra fields.
type Instr struct {
	valueBase
	Op       Opcode
	parent   *BasicBlock
	operands []*Use

	Pred      CmpPred     // icmp, fcmp
	Allocated typing.Type // alloca
	Bytes     int         // memset fill length
}

func (*Instr) Kind() Kind { return KindInstr }

// Parent returns the containing block, nil while detached
func (in *Instr) Parent() *BasicBlock { return in.parent }

// NumOperands returns the operand count
func (in *Instr) NumOperands() int { return len(in.operands) }

// Operand returns operand i
func (in *Instr) Operand(i int) Value { return in.operands[i].val }

// Operands returns the operand values in order
func (in *Instr) Operands() []Value {
	vs := make([]Value, len(in.operands))
	for i, u := range in.operands {
		vs[i] = u.val
	}
	return vs
}

// AddOperand appends v as a new operand
func (in *Instr) AddOperand(v Value) {
	u := &Use{User: in, Index: len(in.operands), val: v}
	in.operands = append(in.operands, u)
	v.addUse(u)
	if in.attachedTerminator() {
		if b, ok := v.(*BasicBlock); ok && in.Op != OpPhi {
			b.addPred(in.parent)
		}
	}
}

// SetOperand replaces operand i with v, keeping use lists and, for
// attached terminators, predecessor lists consistent.
func (in *Instr) SetOperand(i int, v Value) {
	u := in.operands[i]
	if u.val == v {
		return
	}
	if in.attachedTerminator() {
		if b, ok := u.val.(*BasicBlock); ok {
			b.dropPredEdge(in)
		}
	}
	u.val.removeUse(u)
	u.val = v
	v.addUse(u)
	if in.attachedTerminator() {
		if b, ok := v.(*BasicBlock); ok {
			b.addPred(in.parent)
		}
	}
}

// DropAllOperands disconnects every operand edge
func (in *Instr) DropAllOperands() {
	if in.attachedTerminator() {
		for _, u := range in.operands {
			if b, ok := u.val.(*BasicBlock); ok {
				b.dropPredEdge(in)
			}
		}
	}
	for _, u := range in.operands {
		u.val.removeUse(u)
	}
	in.operands = in.operands[:0]
}

// removeOperand deletes operand slot i, shifting later indices down
func (in *Instr) removeOperand(i int) {
	u := in.operands[i]
	u.val.removeUse(u)
	in.operands = append(in.operands[:i], in.operands[i+1:]...)
	for j := i; j < len(in.operands); j++ {
		in.operands[j].Index = j
	}
}

// attachedTerminator reports whether this instruction's block operands
// currently define CFG edges
func (in *Instr) attachedTerminator() bool {
	return in.parent != nil && in.Op.IsTerminator()
}

// IsTerminator reports whether the instruction ends a block
func (in *Instr) IsTerminator() bool { return in.Op.IsTerminator() }

// Succs returns the successor blocks named by a terminator
func (in *Instr) Succs() []*BasicBlock {
	switch in.Op {
	case OpBr:
		return []*BasicBlock{in.Operand(0).(*BasicBlock)}
	case OpCondBr:
		return []*BasicBlock{in.Operand(1).(*BasicBlock), in.Operand(2).(*BasicBlock)}
	}
	return nil
}

// MayWriteMemory reports whether the instruction can store
func (in *Instr) MayWriteMemory() bool {
	return in.Op == OpStore || in.Op == OpMemset || in.Op == OpCall
}

// MayReadMemory reports whether the instruction can load
func (in *Instr) MayReadMemory() bool {
	return in.Op == OpLoad || in.Op == OpCall
}

// HasSideEffects reports whether the instruction must survive even when
// its result is unused
func (in *Instr) HasSideEffects() bool {
	return in.Op.IsTerminator() || in.MayWriteMemory()
}

func newInstr(op Opcode, t typing.Type, operands ...Value) *Instr {
	in := &Instr{valueBase: valueBase{typ: t}, Op: op}
	for _, v := range operands {
		in.AddOperand(v)
	}
	return in
}

// NewAlloca builds a stack slot holding a value of type t
func NewAlloca(t typing.Type) *Instr {
	in := newInstr(OpAlloca, typing.Pointer(t))
	in.Allocated = t
	return in
}

// NewLoad builds a load through ptr
func NewLoad(ptr Value) *Instr {
	return newInstr(OpLoad, typing.Pointee(ptr.Type()), ptr)
}

// NewStore builds a store of v through ptr. Stores produce no value.
func NewStore(v, ptr Value) *Instr {
	return newInstr(OpStore, typing.Void(), v, ptr)
}

// NewGEP builds an address computation from base and indices
func NewGEP(base Value, indices ...Value) *Instr {
	t := gepResultType(base.Type(), len(indices))
	ops := append([]Value{base}, indices...)
	return newInstr(OpGetElementPtr, t, ops...)
}

// gepResultType walks the indexed type: the first index steps along the
// pointer, each further index peels one array dimension.
func gepResultType(base typing.Type, nIdx int) typing.Type {
	cur := typing.Pointee(base)
	for i := 1; i < nIdx; i++ {
		arr, ok := cur.(*typing.ArrayType)
		if !ok {
			panic(fmt.Sprintf("ir: gep index %d into non-array %s", i, cur))
		}
		cur = arr.Peel()
	}
	return typing.Pointer(cur)
}

// NewMemset builds a zero fill of n bytes starting at ptr
func NewMemset(ptr Value, n int) *Instr {
	in := newInstr(OpMemset, typing.Void(), ptr)
	in.Bytes = n
	return in
}

// NewRet builds a return. v is nil for void functions.
func NewRet(v Value) *Instr {
	if v == nil {
		return newInstr(OpRet, typing.Void())
	}
	return newInstr(OpRet, typing.Void(), v)
}

// NewBr builds an unconditional branch
func NewBr(target *BasicBlock) *Instr {
	return newInstr(OpBr, typing.Void(), target)
}

// NewCondBr builds a two-way branch on an i1 condition
func NewCondBr(cond Value, ifTrue, ifFalse *BasicBlock) *Instr {
	return newInstr(OpCondBr, typing.Void(), cond, ifTrue, ifFalse)
}

// NewCall builds a call. The callee is operand 0 so that a function's
// use list enumerates its call sites.
func NewCall(callee *Function, args ...Value) *Instr {
	ft := callee.Type().(*typing.FuncType)
	ops := append([]Value{callee}, args...)
	return newInstr(OpCall, ft.Ret, ops...)
}

// NewICmp builds an integer comparison
func NewICmp(p CmpPred, x, y Value) *Instr {
	in := newInstr(OpICmp, typing.Bool(), x, y)
	in.Pred = p
	return in
}

// NewFCmp builds a floating comparison
func NewFCmp(p CmpPred, x, y Value) *Instr {
	in := newInstr(OpFCmp, typing.Bool(), x, y)
	in.Pred = p
	return in
}

// NewFNeg builds a floating negation
func NewFNeg(x Value) *Instr {
	return newInstr(OpFNeg, x.Type(), x)
}

// NewCast builds a conversion of x to type to
func NewCast(op Opcode, x Value, to typing.Type) *Instr {
	if !op.IsCast() {
		panic("ir: NewCast with non-cast opcode " + op.String())
	}
	return newInstr(op, to, x)
}

// NewBinary builds an arithmetic instruction over same-typed operands
func NewBinary(op Opcode, x, y Value) *Instr {
	if !op.IsBinary() {
		panic("ir: NewBinary with non-binary opcode " + op.String())
	}
	return newInstr(op, x.Type(), x, y)
}

// NewPhi builds an empty phi of type t; incomings are added as
// predecessors are wired up.
func NewPhi(t typing.Type) *Instr {
	return newInstr(OpPhi, t)
}

// Phi incoming pairs are stored as alternating [value, block] operands.

// NumIncoming returns the phi's incoming edge count
func (in *Instr) NumIncoming() int { return len(in.operands) / 2 }

// Incoming returns the i'th incoming value and its predecessor
func (in *Instr) Incoming(i int) (Value, *BasicBlock) {
	return in.Operand(2 * i), in.Operand(2*i + 1).(*BasicBlock)
}

// AddIncoming appends an incoming edge
func (in *Instr) AddIncoming(v Value, pred *BasicBlock) {
	in.AddOperand(v)
	in.AddOperand(pred)
}

// RemoveIncoming deletes the i'th incoming edge
func (in *Instr) RemoveIncoming(i int) {
	in.removeOperand(2 * i)
	in.removeOperand(2 * i)
}

// IncomingFor returns the value flowing in from pred, nil if absent
func (in *Instr) IncomingFor(pred *BasicBlock) Value {
	for i := 0; i < in.NumIncoming(); i++ {
		if v, b := in.Incoming(i); b == pred {
			return v
		}
	}
	return nil
}

// Callee returns the called function of a call instruction
func (in *Instr) Callee() *Function { return in.Operand(0).(*Function) }

// Args returns the argument values of a call instruction
func (in *Instr) Args() []Value { return in.Operands()[1:] }
