// Package server accepts DNS server connections on TCP and unix sockets.
//
// Every accepted connection runs on its own goroutine. A single connection cap
// is shared by all listeners. A listener whose connection finds the server full
// holds it unserved and stops accepting until a slot frees, so further
// connections wait in the kernel backlog instead of being refused. Idle
// listeners hold no slot.
package server
