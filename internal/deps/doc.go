// Package deps checks that the external binaries used for capture are
// installed before a recording starts.
package deps
