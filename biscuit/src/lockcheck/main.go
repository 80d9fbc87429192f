// Command lockcheck is a static checker for the frame table's documented
// lock order: a frame.Table lock must never be acquired while a
// frame.SharedTable lock, acquired earlier in the same function, is still
// held. It walks each function body in textual order looking for a
// SharedTable.Lock() not yet matched by a SharedTable.Unlock() followed by
// a Table.Lock() call, the ordering bug class that motivated moving
// loadShared onto singleflight in the first place.
package main

import (
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/analysis/singlechecker"
	"golang.org/x/tools/go/ast/inspector"
)

var Analyzer = &analysis.Analyzer{
	Name:     "lockcheck",
	Doc:      "reports frame.SharedTable locks taken before a frame.Table lock in the same function",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func main() {
	singlechecker.Main(Analyzer)
}

type lockKind int

const (
	notALock lockKind = iota
	frameTableLock
	sharedTableLock
)

func classify(info *types.Info, recv ast.Expr) lockKind {
	t := info.TypeOf(recv)
	if t == nil {
		return notALock
	}
	if ptr, ok := t.(*types.Pointer); ok {
		t = ptr.Elem()
	}
	named, ok := t.(*types.Named)
	if !ok {
		return notALock
	}
	obj := named.Obj()
	if obj.Pkg() == nil || obj.Pkg().Name() != "frame" {
		return notALock
	}
	switch obj.Name() {
	case "Table":
		return frameTableLock
	case "SharedTable":
		return sharedTableLock
	}
	return notALock
}

func run(pass *analysis.Pass) (interface{}, error) {
	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{(*ast.FuncDecl)(nil)}
	insp.Preorder(nodeFilter, func(n ast.Node) {
		fn := n.(*ast.FuncDecl)
		if fn.Body == nil {
			return
		}
		holdingShared := false
		ast.Inspect(fn.Body, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			sel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			kind := classify(pass.TypesInfo, sel.X)
			if kind == notALock {
				return true
			}
			switch sel.Sel.Name {
			case "Lock":
				if kind == sharedTableLock {
					holdingShared = true
				} else if kind == frameTableLock && holdingShared {
					pass.Reportf(call.Pos(),
						"frame.Table.Lock() called while a frame.SharedTable lock is held; "+
							"acquire the frame table lock first")
				}
			case "Unlock":
				if kind == sharedTableLock {
					holdingShared = false
				}
			}
			return true
		})
	})
	return nil, nil
}
