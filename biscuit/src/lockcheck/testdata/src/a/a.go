package a

import "frame"

func correctOrder() {
	tb := &frame.Table{}
	st := &frame.SharedTable{}
	tb.Lock()
	st.Lock()
	st.Unlock()
	tb.Unlock()
}

func reverseOrder() {
	tb := &frame.Table{}
	st := &frame.SharedTable{}
	st.Lock()
	tb.Lock() // want "frame.Table.Lock\\(\\) called while a frame.SharedTable lock is held"
	tb.Unlock()
	st.Unlock()
}

func reacquireAfterRelease() {
	tb := &frame.Table{}
	st := &frame.SharedTable{}
	st.Lock()
	st.Unlock()
	tb.Lock()
	tb.Unlock()
}
