// Package clock provides a coarse millisecond clock read without locks.
package clock
