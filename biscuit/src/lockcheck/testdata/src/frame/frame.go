// Package frame is a stand-in for the real frame package, shaped just
// enough (type names, Lock/Unlock methods) for lockcheck's tests to
// exercise the analyzer without depending on the whole module graph.
package frame

type Table struct{}

func (t *Table) Lock()   {}
func (t *Table) Unlock() {}

type SharedTable struct{}

func (s *SharedTable) Lock()   {}
func (s *SharedTable) Unlock() {}
