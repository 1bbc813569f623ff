// Package script hosts gadget JavaScript on goja.
//
// Each Engine owns one runtime and serializes all access to it on a Loop
// goroutine. Go calls into script with Run, Exec and Eval (which awaits
// returned promises); script calls into Go through functions that return
// promises built with Async, so a blocking Go operation never holds the
// loop. A Mapper translates values and errors across the boundary.
package script
