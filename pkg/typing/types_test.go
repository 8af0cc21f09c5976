package typing

import "testing"

func TestPrimitiveSizes(t *testing.T) {
	tests := []struct {
		typ  Type
		size int
	}{
		{Void(), 0},
		{Bool(), 1},
		{I8(), 1},
		{I32(), 4},
		{I64(), 8},
		{F32(), 4},
		{F64(), 8},
		{Label(), 0},
	}
	for _, tt := range tests {
		if got := tt.typ.Size(); got != tt.size {
			t.Errorf("%s.Size() = %d, want %d", tt.typ, got, tt.size)
		}
	}
}

func TestPointerSize(t *testing.T) {
	// 8 bytes on the 64-bit ABI, even for pointers to small types
	if got := Pointer(I32()).Size(); got != 8 {
		t.Errorf("Pointer(i32).Size() = %d, want 8", got)
	}
	if got := Pointer(Array(I32(), 10)).Size(); got != 8 {
		t.Errorf("Pointer(array).Size() = %d, want 8", got)
	}
}

func TestArraySize(t *testing.T) {
	a := Array(I32(), 3, 4)
	if got := a.Size(); got != 48 {
		t.Errorf("Array(i32,3,4).Size() = %d, want 48", got)
	}
	if got := a.NumElems(); got != 12 {
		t.Errorf("NumElems() = %d, want 12", got)
	}
}

func TestSameStructural(t *testing.T) {
	if !Same(I32(), I32()) {
		t.Errorf("i32 should equal i32")
	}
	if Same(I32(), F32()) {
		t.Errorf("i32 should not equal float")
	}
	if !Same(Pointer(I32()), Pointer(I32())) {
		t.Errorf("i32* should equal i32* structurally")
	}
	if Same(Pointer(I32()), Pointer(F32())) {
		t.Errorf("i32* should not equal float*")
	}
	if !Same(Array(I32(), 2, 3), Array(I32(), 2, 3)) {
		t.Errorf("identical arrays should be Same")
	}
	if Same(Array(I32(), 2, 3), Array(I32(), 3, 2)) {
		t.Errorf("arrays with different dims should differ")
	}
	if !Same(Func(Void(), I32(), F32()), Func(Void(), I32(), F32())) {
		t.Errorf("identical signatures should be Same")
	}
	if Same(Func(Void(), I32()), Func(I32(), I32())) {
		t.Errorf("signatures with different returns should differ")
	}
}

func TestSameReflexive(t *testing.T) {
	types := []Type{Void(), Bool(), I32(), F32(), Pointer(F64()), Array(F32(), 7), Func(I32())}
	for _, typ := range types {
		if !Same(typ, typ) {
			t.Errorf("Same(%s, %s) = false, want true", typ, typ)
		}
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{I32(), "i32"},
		{Bool(), "i1"},
		{F32(), "float"},
		{F64(), "double"},
		{Pointer(I32()), "i32*"},
		{Array(I32(), 4), "[4 x i32]"},
		{Array(I32(), 2, 3), "[2 x [3 x i32]]"},
		{Func(I32(), I32(), F32()), "i32 (i32, float)"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
