// Package evaluator models ownership and borrowing as runtime-checked rules.
// An Evaluator keeps a stack of lexical scopes over an arena of slots. Each
// slot records whether its value has been moved out and whether it is
// borrowed shared or exclusively, so the claims a teaching program makes in
// comments ("s1 is no longer valid", "cannot borrow twice") can be checked by
// issuing the same sequence of calls and inspecting the typed errors.
//
// References are scoped acquisitions: a borrow that is not ended explicitly is
// released when the scope it was created in exits, and any later use of it
// fails with DanglingReference.
package evaluator
